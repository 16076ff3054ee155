package envelope

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"io"

	json "github.com/goccy/go-json"

	"github.com/groundfault/groundfault/errs"
)

// Encode serializes the envelope as zlib-deflated UTF-8 JSON, one frame per
// transport message.
func Encode(e *Envelope) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, errs.New("envelope", errs.CodeInvalid,
			errs.WithMessage("marshal envelope"), errs.WithCause(err))
	}
	return deflate(raw)
}

// Decode inflates and parses a wire frame produced by Encode.
func Decode(frame []byte) (*Envelope, error) {
	raw, err := inflate(frame)
	if err != nil {
		return nil, err
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.New("envelope", errs.CodeDecode,
			errs.WithMessage("malformed envelope JSON"), errs.WithCause(err))
	}
	return &e, nil
}

// EncodeBlob serializes a value for an at-rest TEXT column: JSON, deflated,
// then base64 so the bytes survive text storage.
func EncodeBlob(v any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errs.New("envelope", errs.CodeInvalid,
			errs.WithMessage("marshal blob"), errs.WithCause(err))
	}
	packed, err := deflate(raw)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(packed), nil
}

// DecodeBlob reverses EncodeBlob. An empty blob yields an empty mapping.
func DecodeBlob(blob string) (map[string]any, error) {
	if blob == "" {
		return map[string]any{}, nil
	}
	packed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, errs.New("envelope", errs.CodeDecode,
			errs.WithMessage("malformed blob base64"), errs.WithCause(err))
	}
	raw, err := inflate(packed)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.New("envelope", errs.CodeDecode,
			errs.WithMessage("malformed blob JSON"), errs.WithCause(err))
	}
	return out, nil
}

func deflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, errs.New("envelope", errs.CodeInvalid,
			errs.WithMessage("deflate"), errs.WithCause(err))
	}
	if err := w.Close(); err != nil {
		return nil, errs.New("envelope", errs.CodeInvalid,
			errs.WithMessage("deflate close"), errs.WithCause(err))
	}
	return buf.Bytes(), nil
}

func inflate(frame []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, errs.New("envelope", errs.CodeDecode,
			errs.WithMessage("malformed zlib frame"), errs.WithCause(err))
	}
	defer func() { _ = r.Close() }()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.New("envelope", errs.CodeDecode,
			errs.WithMessage("truncated zlib frame"), errs.WithCause(err))
	}
	return raw, nil
}
