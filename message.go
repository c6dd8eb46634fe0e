package main

const (
	MsgNoPlate = "No number plate detected. Try a photo where the plate is clearly visible and not obstructed."

	MsgPlateDetected = "Number plate detected."

	MsgMultiplePlates = "Detected %d candidate plates; showing the first one."

	MsgProcessingError = "An error occurred during detection"

	MsgModelUnavailable = "The detection model is not available."
)
