package aiinterface

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContent_Unmarshal(t *testing.T) {
	t.Run("字符串内容", func(t *testing.T) {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &m))
		assert.False(t, m.Content.IsMultimodal())
		assert.Equal(t, "hi", m.Content.Text)
		assert.NoError(t, m.Content.Validate())
	})

	t.Run("分片数组内容", func(t *testing.T) {
		var m Message
		raw := `{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]}`
		require.NoError(t, json.Unmarshal([]byte(raw), &m))
		assert.True(t, m.Content.IsMultimodal())
		assert.Len(t, m.Content.Parts, 2)
		assert.Equal(t, "look", m.Content.PlainText())
		assert.NoError(t, m.Content.Validate())

		out, err := json.Marshal(m)
		require.NoError(t, err)
		assert.JSONEq(t, raw, string(out))
	})

	t.Run("非法类型", func(t *testing.T) {
		var m Message
		assert.Error(t, json.Unmarshal([]byte(`{"role":"user","content":42}`), &m))
	})
}

func TestMessageContent_Validate(t *testing.T) {
	assert.Error(t, MessageContent{}.Validate())
	assert.Error(t, MessageContent{Parts: []ContentPart{}}.Validate())
	assert.Error(t, MessageContent{Parts: []ContentPart{{Type: "audio"}}}.Validate())
	assert.Error(t, MessageContent{Parts: []ContentPart{{Type: PartTypeImageURL}}}.Validate())
}

func TestErrorTypeOf(t *testing.T) {
	err := &ClientError{Type: ErrorTypeRateLimit, Message: "x"}
	assert.Equal(t, ErrorTypeRateLimit, ErrorTypeOf(err))
	assert.Equal(t, ErrorTypeUnknown, ErrorTypeOf(assert.AnError))
}
