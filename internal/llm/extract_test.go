package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		ext    string
		want   string
	}{
		{
			name:   "no fence returns trimmed text",
			answer: "  def f(): pass\n\n",
			ext:    ".py",
			want:   "def f(): pass",
		},
		{
			name:   "single fence",
			answer: "Here you go:\n\n```python\nimport os\n\ndef f():\n    return os.sep\n```\n\nEnjoy.",
			ext:    ".py",
			want:   "import os\n\ndef f():\n    return os.sep\n",
		},
		{
			name:   "matching language wins",
			answer: "```bash\npip install x\n```\n\n```python\nprint(1)\n```\n",
			ext:    ".py",
			want:   "print(1)\n",
		},
		{
			name:   "untagged fences are joined",
			answer: "```\na = 1\n```\ntext\n```\nb = 2\n```\n",
			ext:    ".py",
			want:   "a = 1\n\nb = 2\n",
		},
		{
			name:   "unknown extension keeps every block",
			answer: "```python\nx\n```\n",
			ext:    ".md",
			want:   "x\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.answer, tt.ext))
		})
	}
}
