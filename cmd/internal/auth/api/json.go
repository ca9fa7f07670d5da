package authapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse accepts both `{"message": ...}` and `{"error": {"code": ..., "message": ...}}`.
type errorResponse struct {
	Error   *apiError `json:"error"`
	Message string    `json:"message"`
}

func decodeJSON(r io.Reader, maxBytes int64, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func decodeError(res *http.Response, maxBytes int64) error {
	out := &Error{Status: res.StatusCode}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBytes))
	if err != nil || len(body) == 0 {
		return out
	}

	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return out
	}
	if er.Error != nil {
		out.Code = er.Error.Code
		out.Message = er.Error.Message
	}
	if out.Message == "" {
		out.Message = er.Message
	}
	return out
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	_ = res.Body.Close()
}
