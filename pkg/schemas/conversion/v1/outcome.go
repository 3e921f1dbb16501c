package conversion

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
)

// Type values set on the published message, e.g. conversion.success.v1.
const (
	TypeSuccess = "conversion.success.v1"
	TypeFailure = "conversion.failure.v1"
)

// Outcome is the result of one request. Exactly one of Success and
// Failure is set; the wire document is told apart by its keys
// ("file" versus "error_msg").
type Outcome struct {
	Success *Success
	Failure *Failure
}

type Success struct {
	ChatID     int64  `bson:"chat_id"`
	File       []byte `bson:"file"`
	ToFiletype string `bson:"to_filetype"`
}

type Failure struct {
	ChatID   int64  `bson:"chat_id"`
	ErrorMsg string `bson:"error_msg"`
}

// Constructors keep exactly one variant set.
func NewSuccess(chatID int64, toFiletype string, file []byte) Outcome {
	return Outcome{Success: &Success{ChatID: chatID, File: file, ToFiletype: toFiletype}}
}

func NewFailure(chatID int64, msg string) Outcome {
	return Outcome{Failure: &Failure{ChatID: chatID, ErrorMsg: msg}}
}

func (o Outcome) Kind() OutcomeKind {
	if o.Failure != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

func (o Outcome) ChatID() int64 {
	switch {
	case o.Success != nil:
		return o.Success.ChatID
	case o.Failure != nil:
		return o.Failure.ChatID
	}
	return 0
}

// Type returns the message type published alongside the outcome.
func (o Outcome) Type() string {
	if o.Kind() == OutcomeFailure {
		return TypeFailure
	}
	return TypeSuccess
}

func (o Outcome) Validate() error {
	ve := &ValidationError{}
	switch {
	case o.Success != nil && o.Failure != nil:
		ve.add("outcome", "both variants set")
	case o.Success != nil:
		if len(o.Success.File) == 0 {
			ve.add("file", "required for success")
		}
		if o.Success.ToFiletype == "" {
			ve.add("to_filetype", "required for success")
		}
	case o.Failure != nil:
		// empty diagnostics are legal: a converter may fail silently
	default:
		ve.add("outcome", "no variant set")
	}
	if len(ve.Issues) > 0 {
		return ve
	}
	return nil
}

func (o Outcome) Marshal() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Success != nil {
		return bson.Marshal(o.Success)
	}
	return bson.Marshal(o.Failure)
}

// DecodeOutcome recovers the variant from a result document. Every error it
// returns matches ErrDecode.
func DecodeOutcome(data []byte) (Outcome, error) {
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return Outcome{}, &decodeError{err: err}
	}
	_, fileErr := raw.LookupErr("file")
	_, msgErr := raw.LookupErr("error_msg")
	hasFile, hasMsg := fileErr == nil, msgErr == nil

	switch {
	case hasFile && hasMsg:
		return Outcome{}, &decodeError{err: errors.New("both file and error_msg present")}
	case hasFile:
		var s Success
		if err := bson.Unmarshal(data, &s); err != nil {
			return Outcome{}, &decodeError{err: err}
		}
		return Outcome{Success: &s}, nil
	case hasMsg:
		var f Failure
		if err := bson.Unmarshal(data, &f); err != nil {
			return Outcome{}, &decodeError{err: err}
		}
		return Outcome{Failure: &f}, nil
	default:
		return Outcome{}, &decodeError{err: errors.New("neither file nor error_msg present")}
	}
}
