package session

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// CurrentSchemaVersion is the binary layout written by Encode.
	CurrentSchemaVersion   = 2
	sessionFormatVersionV1 = 1

	maxPayloadBytes = 1 << 20
)

// Encode serializes a session into the compact binary layout stored in Redis.
// The handle is part of the key and is not repeated in the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", s.UserID},
		{"recipeUserID", s.RecipeUserID},
		{"tenantID", s.TenantID},
	} {
		if len(field.value) > 255 {
			return nil, fmt.Errorf("%s too long", field.name)
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	payload := []byte("{}")
	if len(s.Payload) > 0 {
		var err error
		payload, err = json.Marshal(s.Payload)
		if err != nil {
			return nil, err
		}
	}
	if len(payload) > maxPayloadBytes {
		return nil, errors.New("payload too large")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(payload))); err != nil {
		return nil, err
	}
	buf.Write(payload)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob written by Encode. Version 1 blobs predate recipe user
// ids; they decode with RecipeUserID equal to UserID.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion && version != sessionFormatVersionV1 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{SchemaVersion: version}

	if s.UserID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if version == CurrentSchemaVersion {
		if s.RecipeUserID, err = readShortString(reader); err != nil {
			return nil, err
		}
	} else {
		s.RecipeUserID = s.UserID
	}
	if s.TenantID, err = readShortString(reader); err != nil {
		return nil, err
	}

	var payloadLen uint32
	if err := binary.Read(reader, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	if payloadLen > maxPayloadBytes || int(payloadLen) > reader.Len() {
		return nil, errors.New("invalid payload length")
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &s.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if s.Payload == nil {
		s.Payload = map[string]any{}
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	return s, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
