package models_test

import (
	"strings"
	"testing"

	"github.com/MegaGrindStone/chat-search/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptQuestion(t *testing.T) {
	tr := models.Transcript{
		models.Greeting(),
		models.NewMessage(models.RoleUser, "What is attention?"),
	}

	want := "assistant: " + models.GreetingText + "\nuser: What is attention?"
	assert.Equal(t, want, tr.Question())
}

func TestNewMessageIDsAreUnique(t *testing.T) {
	a := models.NewMessage(models.RoleUser, "a")
	b := models.NewMessage(models.RoleUser, "a")
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
}

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		notWant string
	}{
		{
			name:  "emphasis",
			input: "**bold** answer",
			want:  "<strong>bold</strong>",
		},
		{
			name:  "link",
			input: "see [arXiv](https://arxiv.org)",
			want:  `<a href="https://arxiv.org">arXiv</a>`,
		},
		{
			name:    "raw html is omitted",
			input:   "<script>alert(1)</script>",
			notWant: "<script>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.RenderMarkdown(tt.input)
			require.NoError(t, err)
			if tt.want != "" {
				assert.Contains(t, string(got), tt.want)
			}
			if tt.notWant != "" {
				assert.False(t, strings.Contains(string(got), tt.notWant), "rendered %q", got)
			}
		})
	}
}
