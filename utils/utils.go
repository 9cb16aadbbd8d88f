package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func ParseRequestBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dest)
	if err != nil {
		slog.Error("error parsing request body", "error", err)
		WriteJsonError(w, fmt.Sprintf("error parsing request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func WriteJsonResponseWithStatus(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}

func WriteJsonResponse(w http.ResponseWriter, data interface{}) {
	WriteJsonResponseWithStatus(w, data, http.StatusOK)
}

func WriteCreated(w http.ResponseWriter, data interface{}) {
	WriteJsonResponseWithStatus(w, data, http.StatusCreated)
}

func WriteMessage(w http.ResponseWriter, message string) {
	WriteJsonResponse(w, messageResponse{Message: message})
}

func WriteSuccess(w http.ResponseWriter) {
	WriteJsonResponse(w, struct{}{})
}

// WriteJsonError is the json counterpart of http.Error, clients always receive {"error": msg}.
func WriteJsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	WriteJsonResponseWithStatus(w, errorResponse{Error: msg}, code)
}

func URLParam(r *http.Request, key string) (string, error) {
	param := chi.URLParam(r, key)
	if len(param) == 0 {
		return "", fmt.Errorf("missing {%v} url parameter", key)
	}
	return param, nil
}

func URLParamUint(r *http.Request, key string) (uint, error) {
	param, err := URLParam(r, key)
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id '%v' provided for {%v}", param, key)
	}

	return uint(id), nil
}
