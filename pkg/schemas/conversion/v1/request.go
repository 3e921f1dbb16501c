package conversion

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// ContentType marks payloads on both the job and the result queue.
const ContentType = "application/bson"

// ConvertRequest is the job envelope consumed from the input queue.
type ConvertRequest struct {
	ChatID       int64  `bson:"chat_id"`
	File         []byte `bson:"file"`
	FileID       string `bson:"file_id"`
	FromFiletype string `bson:"from_filetype"`
	ToFiletype   string `bson:"to_filetype"`
}

// DecodeRequest parses and validates a job envelope. Every error it
// returns matches ErrDecode.
func DecodeRequest(data []byte) (ConvertRequest, error) {
	var r ConvertRequest
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return r, &decodeError{err: err}
	}
	if err := bson.Unmarshal(data, &r); err != nil {
		return r, &decodeError{err: err}
	}
	ve := &ValidationError{}
	// chat_id 0 is a legal id, so presence is checked on the raw document.
	if v, err := raw.LookupErr("chat_id"); err != nil || v.Type == bson.TypeNull {
		ve.add("chat_id", "required")
	}
	r.validate(ve)
	if len(ve.Issues) > 0 {
		return r, ve
	}
	return r, nil
}

func (r *ConvertRequest) Validate() error {
	ve := &ValidationError{}
	r.validate(ve)
	if len(ve.Issues) > 0 {
		return ve
	}
	return nil
}

func (r *ConvertRequest) validate(ve *ValidationError) {
	switch {
	case r.FileID == "":
		ve.add("file_id", "required")
	case !plainFileName(r.FileID):
		ve.add("file_id", "must be a plain file name")
	}
	if len(r.File) == 0 {
		ve.add("file", "required")
	}
	if r.FromFiletype == "" {
		ve.add("from_filetype", "required")
	}
	if r.ToFiletype == "" {
		ve.add("to_filetype", "required")
	}
}

func (r *ConvertRequest) Marshal() ([]byte, error) {
	return bson.Marshal(r)
}

// plainFileName reports whether id can name the staged file directly: one
// path element, no separators or NUL, not "." or "..".
func plainFileName(id string) bool {
	return id != "." && id != ".." && !strings.ContainsAny(id, "/\\\x00")
}
