// Package web holds the response envelope and shared HTTP middleware.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
)

// Result is the envelope every endpoint answers with. The algorithm and
// file services speak the same shape, so code==200 means success on both
// sides of the wire.
type Result struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func OK(w http.ResponseWriter, data interface{}) {
	writeResult(w, http.StatusOK, Result{Code: 200, Msg: "success", Data: data})
}

func Fail(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Log.WithError(err).Error("request failed")
	}
	writeResult(w, status, Result{Code: status, Msg: err.Error()})
}

func FailStatus(w http.ResponseWriter, status int, msg string) {
	writeResult(w, status, Result{Code: status, Msg: msg})
}

func writeResult(w http.ResponseWriter, status int, result Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Log.WithError(err).Error("failed to encode response")
	}
}

// PathID parses a numeric path variable.
func PathID(vars map[string]string, name string) (int64, error) {
	raw, ok := vars[name]
	if !ok {
		return 0, errs.Invalid("missing path parameter %q", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Invalid("invalid %s: %q", name, raw)
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string, defaultValue int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}
