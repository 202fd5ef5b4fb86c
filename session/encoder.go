package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const entryFormatVersionCurrent = 1

// ErrCorrupt is returned when a stored entry cannot be decoded.
var ErrCorrupt = errors.New("session: corrupt entry")

// Encode serializes e without its ID.
func Encode(e *Entry) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(entryFormatVersionCurrent)

	if len(e.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(e.UserID)))
	buf.WriteString(e.UserID)

	if len(e.Fingerprint) > 255 {
		return nil, errors.New("fingerprint too long")
	}
	buf.WriteByte(byte(len(e.Fingerprint)))
	buf.WriteString(e.Fingerprint)

	if len(e.Client) > 0xFFFF {
		return nil, errors.New("client blob too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(e.Client))); err != nil {
		return nil, err
	}
	buf.WriteString(e.Client)

	for _, ts := range []int64{e.CreatedAt, e.LastActiveAt, e.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses data produced by Encode.
func Decode(data []byte) (*Entry, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	if version != entryFormatVersionCurrent {
		return nil, ErrCorrupt
	}

	e := &Entry{}
	if e.UserID, err = readShortString(r); err != nil {
		return nil, ErrCorrupt
	}
	if e.Fingerprint, err = readShortString(r); err != nil {
		return nil, ErrCorrupt
	}

	var clientLen uint16
	if err := binary.Read(r, binary.BigEndian, &clientLen); err != nil {
		return nil, ErrCorrupt
	}
	client := make([]byte, clientLen)
	if _, err := io.ReadFull(r, client); err != nil {
		return nil, ErrCorrupt
	}
	e.Client = string(client)

	for _, dst := range []*int64{&e.CreatedAt, &e.LastActiveAt, &e.ExpiresAt} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, ErrCorrupt
		}
	}
	if r.Len() != 0 {
		return nil, ErrCorrupt
	}
	if e.UserID == "" {
		return nil, ErrCorrupt
	}

	return e, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
