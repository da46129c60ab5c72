package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil stays nil", input: nil, want: nil},
		{name: "single broker", input: []string{"localhost:9092"}, want: []string{"localhost:9092"}},
		{
			name:  "repeated broker with padding",
			input: []string{"kafka-1:9092", " kafka-1:9092 ", "kafka-2:9092"},
			want:  []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{name: "trailing separators", input: []string{"kafka-1:9092", "", "  "}, want: []string{"kafka-1:9092"}},
		{name: "only blanks", input: []string{"", " "}, want: []string{}},
		{name: "case is significant", input: []string{"Kafka:9092", "kafka:9092"}, want: []string{"Kafka:9092", "kafka:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}
