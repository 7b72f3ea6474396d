package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestParseJSON_Plain(t *testing.T) {
	got, err := ParseJSON[sample](`{"name": "a", "count": 2}`)
	require.NoError(t, err)
	assert.Equal(t, sample{Name: "a", Count: 2}, got)
}

func TestParseJSON_MarkdownFenced(t *testing.T) {
	reply := "Here is the result:\n```json\n{\"name\": \"a\", \"count\": 2}\n```\nLet me know if you need more."
	got, err := ParseJSON[sample](reply)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
}

func TestParseJSON_NoObject(t *testing.T) {
	_, err := ParseJSON[sample]("no structured data here")
	assert.Error(t, err)
}

func TestParseJSON_MalformedObject(t *testing.T) {
	_, err := ParseJSON[sample](`{"name": "a", "count": }`)
	assert.Error(t, err)
}

func TestParseJSONList_Plain(t *testing.T) {
	got, err := ParseJSONList[sample](`[{"name": "a"}, {"name": "b"}]`)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Name)
}

func TestParseJSONList_EmptyArrayIsValid(t *testing.T) {
	got, err := ParseJSONList[sample]("The report is normal.\n[]")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseJSONList_NoArray(t *testing.T) {
	_, err := ParseJSONList[sample](`{"name": "a"}`)
	assert.Error(t, err)
}
