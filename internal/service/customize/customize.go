// Package customize rewrites a candidate item's text and attachments before it
// is published. Nothing here touches the database; callers get a copy back.
package customize

import (
	"fmt"
	"regexp"
	"strings"

	"gorm.io/datatypes"

	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/pkg/util"
)

const sourceLinkFormat = "Source: %s"

var (
	hashtagPattern     = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	inlineSpacePattern = regexp.MustCompile(`[^\S\n]+`)
	lineEdgePattern    = regexp.MustCompile(` *\n *`)
)

// Result is the prepared item plus what customization changed.
type Result struct {
	Item models.CandidateItem

	// AddedMedia is true when customization attached media the item did not have.
	AddedMedia bool
}

// Prepare applies the pre-options and customization blocks in a fixed order:
// tag stripping, transliteration, text block, hashtags, source link,
// signature, injected image.
func Prepare(item models.CandidateItem, pre models.PreOptions, c models.Customization) Result {
	out := item
	if item.Attachments != nil {
		out.Attachments = make(datatypes.JSONSlice[models.Attachment], len(item.Attachments))
		copy(out.Attachments, item.Attachments)
	}

	text := item.Text
	if pre.StripHashtags {
		text = StripHashtags(text)
	}
	if pre.Transliterate {
		text = Transliterate(text)
	}

	if c.Text != "" {
		if c.TextPosition == models.TextBefore {
			text = util.PrependBlock(text, c.Text)
		} else {
			text = util.AppendBlock(text, c.Text)
		}
	}

	if tags := util.NormalizeHashtags(c.Hashtags); tags != "" {
		text = util.AppendBlock(text, tags)
	}

	if c.AddSourceLink && item.URL != "" {
		text = util.AppendBlock(text, fmt.Sprintf(sourceLinkFormat, item.URL))
	}

	if c.Signature != "" {
		text = util.AppendBlock(text, c.Signature)
	}

	res := Result{}
	if url := strings.TrimSpace(c.ImageURL); url != "" {
		out.Attachments = append(out.Attachments, models.Attachment{
			Type: models.AttachmentPhoto,
			URL:  url,
		})
		res.AddedMedia = true
	}

	out.Text = text
	res.Item = out
	return res
}

// StripHashtags removes #word tokens and squeezes the whitespace left behind.
// Line breaks are kept; spaces next to them are dropped.
func StripHashtags(text string) string {
	text = hashtagPattern.ReplaceAllString(text, "")
	text = inlineSpacePattern.ReplaceAllString(text, " ")
	text = lineEdgePattern.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// lookalikes maps Cyrillic letters to Latin letters of the same shape. It is
// deliberately incomplete: letters without a twin are left alone.
var lookalikes = map[rune]rune{
	'а': 'a', 'в': 'B', 'е': 'e', 'к': 'k', 'м': 'M', 'н': 'H', 'о': 'o',
	'р': 'p', 'с': 'c', 'т': 'T', 'у': 'y', 'х': 'x', 'і': 'i', 'ј': 'j',
	'ѕ': 's', 'ԁ': 'd', 'ԛ': 'q', 'ԝ': 'w',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X', 'І': 'I', 'Ј': 'J',
	'Ѕ': 'S',
}

// Transliterate swaps lookalike characters one by one.
func Transliterate(text string) string {
	return strings.Map(func(r rune) rune {
		if l, ok := lookalikes[r]; ok {
			return l
		}
		return r
	}, text)
}
