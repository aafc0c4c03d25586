// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/pkg/model"
	"github.com/sirupsen/logrus"
)

const (
	ErrorMessageKey = "X-Vega-Error-Message"
	JSON_MIME       = "application/json"
)

// ResponseWriter shadow ResponseWriter
type ResponseWriter struct {
	http.ResponseWriter
	written    int64
	statusCode int
	remoteAddr string
}

// NewResponseWriter bind ResponseWriter
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK, remoteAddr: parseRemoteAddress(r)}
}

// Write data
func (w *ResponseWriter) Write(data []byte) (int, error) {
	written, err := w.ResponseWriter.Write(data)
	w.written += int64(written)
	return written, err
}

// WriteHeader write header statusCode
func (w *ResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// StatusCode return statusCode
func (w *ResponseWriter) StatusCode() int {
	return w.statusCode
}

// Written return body size
func (w *ResponseWriter) Written() int64 {
	return w.written
}

func (w *ResponseWriter) RemoteAddress() string {
	return w.remoteAddr
}

func parseRemoteAddress(r *http.Request) string {
	xForwardedFor := r.Header.Get("X-Forwarded-For")
	if addr := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0]); len(addr) != 0 {
		return addr
	}
	if addr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); len(addr) != 0 {
		return addr
	}
	addr, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	return addr
}

// ErrorCode is the error response envelope.
type ErrorCode struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func renderFailureFormat(w http.ResponseWriter, r *http.Request, code int, format string, a ...any) {
	renderFailure(w, r, code, fmt.Sprintf(format, a...))
}

func renderFailure(w http.ResponseWriter, r *http.Request, code int, message string) {
	resp := &ErrorCode{
		Code:    code,
		Message: message,
	}
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
	if code != http.StatusOK {
		r.Header.Set(ErrorMessageKey, message)
	}
}

// renderError maps an error to its wire status. Every handler funnels
// failures through here so a given error kind always surfaces the same
// way.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case model.IsErrNotFound(err), plumbing.IsErrRevNotFound(err), plumbing.IsNoSuchObject(err):
		renderFailure(w, r, http.StatusNotFound, err.Error())
	case model.IsErrAlreadyExists(err),
		model.IsErrChangeConflict(err),
		model.IsErrRedundantChange(err),
		plumbing.IsErrRefChanged(err):
		renderFailure(w, r, http.StatusConflict, err.Error())
	// merge type clashes are query failures and land in the 400 case
	case model.IsErrQueryFailure(err), model.IsErrInvalidRequest(err):
		renderFailure(w, r, http.StatusBadRequest, err.Error())
	case model.IsErrForbidden(err):
		renderFailure(w, r, http.StatusForbidden, err.Error())
	case model.IsErrQuotaExceeded(err):
		renderFailure(w, r, http.StatusTooManyRequests, err.Error())
	case model.IsErrReplicationUnavailable(err), errors.Is(err, model.ErrShuttingDown):
		renderFailure(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		renderFailure(w, r, http.StatusServiceUnavailable, "request timed out")
	default:
		renderFailure(w, r, http.StatusInternalServerError, "internal server error")
		r.Header.Set(ErrorMessageKey, err.Error())
	}
}

func JsonEncode(w http.ResponseWriter, a any) {
	// RFC https://www.rfc-editor.org/rfc/rfc8259.html#section-8.1
	// JSON text exchanged between systems that are not part of a closed
	// ecosystem MUST be encoded using UTF-8 [RFC3629].
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(a); err != nil {
		logrus.Errorf("encode response error: %v", err)
	}
}

func JsonEncodeStatus(w http.ResponseWriter, code int, a any) {
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(a); err != nil {
		logrus.Errorf("encode response error: %v", err)
	}
}
