package customize

import (
	"regexp"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ifuryst/reposter/internal/models"
)

func sampleItem() models.CandidateItem {
	return models.CandidateItem{
		ID:   7,
		Text: "Morning #news from the river",
		URL:  "https://origin.example/post/7",
		Attachments: datatypes.JSONSlice[models.Attachment]{
			{Type: models.AttachmentPhoto, MediaID: "1_10", URL: "https://cdn.example/1.jpg"},
		},
	}
}

func TestPrepareWithNothingEnabledKeepsItem(t *testing.T) {
	item := sampleItem()

	res := Prepare(item, models.PreOptions{}, models.Customization{})

	assert.Equal(t, item.Text, res.Item.Text)
	assert.Equal(t, item.Attachments, res.Item.Attachments)
	assert.False(t, res.AddedMedia)
}

func TestPrepareAppliesBlocksInOrder(t *testing.T) {
	item := sampleItem()

	res := Prepare(item, models.PreOptions{StripHashtags: true}, models.Customization{
		Text:          "Daily pick",
		TextPosition:  models.TextBefore,
		Hashtags:      "river, morning #city",
		AddSourceLink: true,
		Signature:     "-- the editors",
		ImageURL:      "https://cdn.example/banner.png",
	})

	want := "Daily pick\n\nMorning from the river\n\n#river #morning #city\n\nSource: https://origin.example/post/7\n\n-- the editors"
	assert.Equal(t, want, res.Item.Text)
	require.Len(t, res.Item.Attachments, 2)
	assert.Equal(t, models.AttachmentPhoto, res.Item.Attachments[1].Type)
	assert.Equal(t, "https://cdn.example/banner.png", res.Item.Attachments[1].URL)
	assert.True(t, res.AddedMedia)
}

func TestPrepareTextAfterByDefault(t *testing.T) {
	res := Prepare(models.CandidateItem{Text: "body"}, models.PreOptions{}, models.Customization{Text: "tail"})
	assert.Equal(t, "body\n\ntail", res.Item.Text)
}

func TestPrepareSkipsSourceLinkWithoutURL(t *testing.T) {
	res := Prepare(models.CandidateItem{Text: "body"}, models.PreOptions{}, models.Customization{AddSourceLink: true})
	assert.Equal(t, "body", res.Item.Text)
}

func TestPrepareDoesNotMutateInput(t *testing.T) {
	item := sampleItem()
	original := item.Attachments[0]

	res := Prepare(item, models.PreOptions{Transliterate: true}, models.Customization{ImageURL: "https://cdn.example/x.png"})
	res.Item.Attachments[0].URL = "changed"

	assert.Len(t, item.Attachments, 1)
	assert.Equal(t, original, item.Attachments[0])
	assert.Equal(t, "Morning #news from the river", item.Text)
}

func TestStripHashtags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "latin", in: "hello #world and #more", want: "hello and"},
		{name: "cyrillic", in: "привет #мир как дела", want: "привет как дела"},
		{name: "keeps newlines", in: "line one #tag\nline   two", want: "line one\nline two"},
		{name: "tag starts a line", in: "first\n#tag second\n\nthird", want: "first\nsecond\n\nthird"},
		{name: "lone hash", in: "price # 5", want: "price # 5"},
		{name: "only tags", in: "#a #b", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHashtags(tt.in))
		})
	}
}

func TestTransliterate(t *testing.T) {
	assert.Equal(t, "Hope", Transliterate("Норе"))
	assert.Equal(t, "caT\nдoM", Transliterate("сат\nдом"))
	assert.Equal(t, "plain text", Transliterate("plain text"))
}

func TestStripThenTransliterateNeverLeavesHashtags(t *testing.T) {
	tagged := regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	property := func(s string) bool {
		return !tagged.MatchString(Transliterate(StripHashtags(s)))
	}
	require.NoError(t, quick.Check(property, nil))

	for _, s := range []string{"##ab", "#а#б", "a#", "# x", "тег #тег#тег"} {
		assert.True(t, property(s), s)
	}
}
