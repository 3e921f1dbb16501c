package conversion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func validRequest() ConvertRequest {
	return ConvertRequest{
		ChatID:       42,
		File:         []byte("# Heading\n\nbody"),
		FileID:       "doc1",
		FromFiletype: "markdown",
		ToFiletype:   "plain",
	}
}

func TestDecodeRequest_RoundTrip(t *testing.T) {
	want := validRequest()
	raw, err := want.Marshal()
	require.NoError(t, err)

	got, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeRequest_ZeroChatID(t *testing.T) {
	want := validRequest()
	want.ChatID = 0
	raw, err := want.Marshal()
	require.NoError(t, err)

	got, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.ChatID)
}

func TestDecodeRequest_LooseChatIDTypes(t *testing.T) {
	tests := []struct {
		name   string
		chatID any
	}{
		{"int32", int32(7)},
		{"double", float64(7)},
		{"int64", int64(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := bson.Marshal(bson.M{
				"chat_id":       tt.chatID,
				"file":          []byte("x"),
				"file_id":       "doc1",
				"from_filetype": "docx",
				"to_filetype":   "plain",
			})
			require.NoError(t, err)

			got, err := DecodeRequest(raw)
			require.NoError(t, err)
			assert.Equal(t, int64(7), got.ChatID)
		})
	}
}

func TestDecodeRequest_Invalid(t *testing.T) {
	full := bson.M{
		"chat_id":       int64(1),
		"file":          []byte("x"),
		"file_id":       "doc1",
		"from_filetype": "docx",
		"to_filetype":   "plain",
	}
	without := func(key string) bson.M {
		m := bson.M{}
		for k, v := range full {
			if k != key {
				m[k] = v
			}
		}
		return m
	}
	with := func(key string, v any) bson.M {
		m := without(key)
		m[key] = v
		return m
	}

	tests := []struct {
		name      string
		doc       bson.M
		wantField string
	}{
		{"missing chat_id", without("chat_id"), "chat_id"},
		{"null chat_id", with("chat_id", nil), "chat_id"},
		{"missing file_id", without("file_id"), "file_id"},
		{"empty file_id", with("file_id", ""), "file_id"},
		{"nested file_id", with("file_id", "reports/q3"), "file_id"},
		{"backslash file_id", with("file_id", `reports\q3`), "file_id"},
		{"parent file_id", with("file_id", ".."), "file_id"},
		{"dot file_id", with("file_id", "."), "file_id"},
		{"nul file_id", with("file_id", "doc\x001"), "file_id"},
		{"missing file", without("file"), "file"},
		{"empty file", with("file", []byte{}), "file"},
		{"missing from_filetype", without("from_filetype"), "from_filetype"},
		{"empty to_filetype", with("to_filetype", ""), "to_filetype"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := bson.Marshal(tt.doc)
			require.NoError(t, err)

			_, err = DecodeRequest(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			require.Len(t, ve.Issues, 1)
			assert.Equal(t, tt.wantField, ve.Issues[0].Field)
		})
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not bson at all")},
		{"truncated", func() []byte {
			r := validRequest()
			raw, _ := r.Marshal()
			return raw[:len(raw)-3]
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecodeRequest_WrongFieldType(t *testing.T) {
	raw, err := bson.Marshal(bson.M{
		"chat_id":       "not a number",
		"file":          []byte("x"),
		"file_id":       "doc1",
		"from_filetype": "docx",
		"to_filetype":   "plain",
	})
	require.NoError(t, err)

	_, err = DecodeRequest(raw)
	assert.ErrorIs(t, err, ErrDecode)
}
