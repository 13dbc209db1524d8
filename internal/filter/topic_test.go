package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"Valid simple topic", "sensors/temperature", false},
		{"Valid single-level wildcard", "sensors/+/temperature", false},
		{"Valid multi-level wildcard", "sensors/#", false},
		{"Valid lone hash", "#", false},
		{"Valid empty level", "a//b", false},
		{"Valid leading slash", "/a", false},
		{"Empty topic", "", true},
		{"Hash not last", "sensors/#/temperature", true},
		{"Hash inside segment", "sensors/temp#", true},
		{"Plus inside segment", "sensors/temp+/x", true},
		{"Null character", "a/\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicFilter(tt.topic)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"Valid topic", "sensors/temperature", false},
		{"Valid system topic", "$SYS/uptime", false},
		{"Empty topic", "", true},
		{"Plus wildcard", "sensors/+", true},
		{"Hash wildcard", "sensors/#", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicName(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTopicName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

var matchCases = []struct {
	pattern string
	topic   string
	want    bool
}{
	{"a/b/c", "a/b/c", true},
	{"a/b/c", "a/b", false},
	{"a/+/c", "a/b/c", true},
	{"a/+/c", "a/b/d", false},
	{"a/+", "a", false},
	{"a/+", "a/", true},
	{"+/+", "/finance", true},
	{"a/#", "a/b/c", true},
	{"a/#", "a", true},
	{"a/#", "ab/c", false},
	{"#", "anything/at/all", true},
	{"+", "a", true},
	{"+", "a/b", false},
	{"#", "$SYS/uptime", false},
	{"+/uptime", "$SYS/uptime", false},
	{"$SYS/#", "$SYS/uptime", true},
	{"$SYS/+", "$SYS/uptime", true},
	{"a//b", "a//b", true},
	{"", "a", false},
}

func TestMatch(t *testing.T) {
	for _, tt := range matchCases {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.topic))
		})
	}
}

func TestTopicTreeAgreesWithMatch(t *testing.T) {
	for _, tt := range matchCases {
		if tt.pattern == "" {
			continue
		}
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			tree := NewTopicTree()
			tree.Insert(&Subscription{Topic: tt.pattern})
			assert.Equal(t, tt.want, len(tree.Match(tt.topic)) == 1)
		})
	}
}

func TestTopicTreeMultipleMatches(t *testing.T) {
	tree := NewTopicTree()
	for _, p := range []string{"a/b/c", "a/+/c", "a/#", "#", "+/b/+", "x/#"} {
		tree.Insert(&Subscription{Topic: p})
	}

	var got []string
	for _, sub := range tree.Match("a/b/c") {
		got = append(got, sub.Topic)
	}
	assert.ElementsMatch(t, []string{"a/b/c", "a/+/c", "a/#", "#", "+/b/+"}, got)
}

func TestTopicTreeDelete(t *testing.T) {
	tree := NewTopicTree()
	tree.Insert(&Subscription{Topic: "a/b"})
	tree.Insert(&Subscription{Topic: "a/b/c"})

	assert.False(t, tree.Delete("a"))
	assert.False(t, tree.Delete("x/y"))
	assert.True(t, tree.Delete("a/b"))
	assert.False(t, tree.Delete("a/b"))

	assert.Empty(t, tree.Match("a/b"))
	assert.Len(t, tree.Match("a/b/c"), 1)

	assert.True(t, tree.Delete("a/b/c"))
	assert.Empty(t, tree.root.children)
}
