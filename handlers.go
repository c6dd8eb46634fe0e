package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"time"

	"github.com/Tutortoise/plate-detection-service/detections"
	"github.com/Tutortoise/plate-detection-service/models"
	"github.com/Tutortoise/plate-detection-service/plates"

	"github.com/google/uuid"
)

type PlateResponse struct {
	RequestID      string              `json:"request_id"`
	Detected       bool                `json:"detected"`
	Message        string              `json:"message"`
	Box            *models.BoundingBox `json:"box,omitempty"`
	Confidence     float32             `json:"confidence,omitempty"`
	Width          int                 `json:"width,omitempty"`
	Height         int                 `json:"height,omitempty"`
	AnnotatedImage string              `json:"annotated_image,omitempty"`
	CroppedImage   string              `json:"cropped_image,omitempty"`
}

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

func (s *AppState) logTimings(t *models.ProcessingTimings) {
	s.Log.Debug("Processing times",
		"request_id", t.RequestID,
		"image_decode", t.ImageDecode,
		"resize", t.Resize,
		"preprocess", t.Preprocess,
		"inference", t.Inference,
		"postprocess", t.Postprocess,
		"suppression", t.Suppression,
		"render", t.Render,
		"total", t.Total,
	)
}

func handleDetectPlate(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := uuid.NewString()
		timings := &models.ProcessingTimings{RequestID: requestID}

		if limit := state.Config.Server.MaxUploadBytes; limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}

		imgBytes, err := readImageBytes(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				sendErrorResponse(w, requestID, "payload_too_large", "Image exceeds upload limit", http.StatusRequestEntityTooLarge)
				return
			}
			sendErrorResponse(w, requestID, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		if contentType := http.DetectContentType(imgBytes); !allowedImageTypes[contentType] {
			sendErrorResponse(w, requestID, "unsupported_media_type",
				fmt.Sprintf("Only JPEG and PNG images are accepted, got %s", contentType),
				http.StatusUnsupportedMediaType)
			return
		}

		img, _, err := image.Decode(bytes.NewReader(imgBytes))
		if err != nil {
			sendErrorResponse(w, requestID, "invalid_image", "Failed to decode image", http.StatusBadRequest)
			return
		}

		path, err := writeTempPNG(state.Config.Server.TempDir, plates.ToRGB(img))
		if err != nil {
			state.Log.Error("Failed to stage upload", "request_id", requestID, "error", err)
			sendErrorResponse(w, requestID, "internal_error", "Failed to store image", http.StatusInternalServerError)
			return
		}
		defer os.Remove(path)

		result, err := state.Plates.DetectAndCrop(r.Context(), path, timings)
		timings.Total = time.Since(startTotal)
		state.logTimings(timings)

		switch plates.KindOf(err) {
		case plates.KindUnknown:
			if err != nil {
				sendErrorResponse(w, requestID, "processing_error", MsgProcessingError, http.StatusInternalServerError)
				return
			}
		case plates.KindNoDetection:
			writeJSON(w, http.StatusOK, PlateResponse{
				RequestID: requestID,
				Detected:  false,
				Message:   MsgNoPlate,
			})
			return
		case plates.KindLoadFailure:
			sendErrorResponse(w, requestID, "model_unavailable", MsgModelUnavailable, http.StatusServiceUnavailable)
			return
		default:
			resp := ErrorResponse{
				Code:      "processing_error",
				Message:   MsgProcessingError,
				Details:   err.Error(),
				RequestID: requestID,
			}
			writeJSON(w, http.StatusUnprocessableEntity, resp)
			return
		}

		annotated, err := encodePNGBase64(result.Annotated)
		if err != nil {
			sendErrorResponse(w, requestID, "encode_error", err.Error(), http.StatusInternalServerError)
			return
		}
		cropped, err := encodePNGBase64(result.Cropped)
		if err != nil {
			sendErrorResponse(w, requestID, "encode_error", err.Error(), http.StatusInternalServerError)
			return
		}

		box := result.Box
		writeJSON(w, http.StatusOK, PlateResponse{
			RequestID:      requestID,
			Detected:       true,
			Message:        plateMessage(result.Detections),
			Box:            &box,
			Confidence:     result.Confidence,
			Width:          result.Annotated.Bounds().Dx(),
			Height:         result.Annotated.Bounds().Dy(),
			AnnotatedImage: annotated,
			CroppedImage:   cropped,
		})
	}
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"cpu_features": detections.CPUFeatures(),
	}
	if s.Metrics != nil {
		response["pool"] = s.Metrics.Metrics()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readImageBytes accepts a JSON body with a base64 "image" field, a multipart
// form with a "file" field, or the raw image as the body.
func readImageBytes(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var data []byte
	var err error
	switch mediaType {
	case "application/json":
		data, err = handleJSONRequest(r)
	case "multipart/form-data":
		data, err = handleMultipartRequest(r)
	default:
		data, err = handleRawRequest(r)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

// writeTempPNG stores img as a PNG file for the detector to read back.
func writeTempPNG(dir string, img image.Image) (string, error) {
	f, err := os.CreateTemp(dir, "plate-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encode temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

func encodePNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func plateMessage(count int) string {
	if count > 1 {
		return fmt.Sprintf(MsgMultiplePlates, count)
	}
	return MsgPlateDetected
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, requestID, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}
