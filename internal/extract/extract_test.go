package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const cdnBase = "https://static.wikia.nocookie.net/numberwiki/images"

func TestCandidateImagePrefersNumericFilename(t *testing.T) {
	t.Parallel()

	doc := fmt.Sprintf(`
		<img src="%s/a/ab/Card_Art.png/revision/latest/scale-to-width-down/120?cb=1">
		<img src="%s/b/bc/Character_256_Promo.png/revision/latest?cb=2">
	`, cdnBase, cdnBase)

	got, ok := New().CandidateImage(doc, 256)
	require.True(t, ok)
	require.Equal(t, cdnBase+"/b/bc/Character_256_Promo.png/revision/latest?cb=2", got)
}

func TestCandidateImageRejectsFaviconEvenWithNumber(t *testing.T) {
	t.Parallel()

	doc := fmt.Sprintf(`<img src="%s/f/f1/favicon_42.png?cb=9">`, cdnBase)

	_, ok := New().CandidateImage(doc, 42)
	require.False(t, ok)
}

func TestCandidateImageRejectsUnlistedHosts(t *testing.T) {
	t.Parallel()

	doc := `<img src="https://evil.example.com/images/Character_42.png">`

	_, ok := New().CandidateImage(doc, 42)
	require.False(t, ok)
}

func TestCandidateImageThousandsSeparatorMatch(t *testing.T) {
	t.Parallel()

	doc := fmt.Sprintf(`<img src="%s/c/cd/One_Million_1%%2C000%%2C000_Art.png?cb=3">`, cdnBase)

	got, ok := New().CandidateImage(doc, 1_000_000)
	require.True(t, ok)
	require.Contains(t, got, "One_Million_1%2C000%2C000_Art.png")
}

func TestCandidateImageInfoboxFallback(t *testing.T) {
	t.Parallel()

	doc := fmt.Sprintf(`
		<img src="%s/d/de/Unrelated_Gallery_Shot.png?cb=4">
		<figure class="pi-item pi-image">
			<a href="#"><img src="%s/e/ef/Main_Card.png/revision/latest/scale-to-width-down/350?cb=5"></a>
		</figure>
	`, cdnBase, cdnBase)

	got, ok := New().CandidateImage(doc, 77)
	require.True(t, ok)
	require.Equal(t, cdnBase+"/e/ef/Main_Card.png/revision/latest?cb=5", got)
}

func TestCandidateImageWordFormFallback(t *testing.T) {
	t.Parallel()

	doc := fmt.Sprintf(`
		<img src="%s/d/de/Gallery_Shot.png?cb=4">
		<img src="%s/a/a1/Twenty_One_Pose.png?cb=6">
	`, cdnBase, cdnBase)

	got, ok := New().CandidateImage(doc, 21)
	require.True(t, ok)
	require.Contains(t, got, "Twenty_One_Pose.png")
}

func TestCandidateImageNoStructuralFallbackPastCeiling(t *testing.T) {
	t.Parallel()

	// Word-form and infobox fallbacks only apply up to 1000.
	doc := fmt.Sprintf(`
		<figure class="pi-item pi-image">
			<img src="%s/e/ef/Main_Card.png?cb=5">
		</figure>
	`, cdnBase)

	_, ok := New().CandidateImage(doc, 2000)
	require.False(t, ok)
}

func TestCandidateImageStripsScaleSegments(t *testing.T) {
	t.Parallel()

	doc := fmt.Sprintf(
		`<img src="%s/b/bc/Fifty_50.png/revision/latest/scale-to-width-down/185?cb=7">`,
		cdnBase,
	)

	got, ok := New().CandidateImage(doc, 50)
	require.True(t, ok)
	require.Equal(t, cdnBase+"/b/bc/Fifty_50.png/revision/latest?cb=7", got)
}

func TestCandidateImageEmptyDocument(t *testing.T) {
	t.Parallel()

	_, ok := New().CandidateImage("", 5)
	require.False(t, ok)
}

func TestCandidateImageSingleDigitRequiresDelimitedMatch(t *testing.T) {
	t.Parallel()

	// "5" inside "150" must not count as a match for number 5.
	doc := fmt.Sprintf(`<img src="%s/a/a2/Character_150_Art.png?cb=8">`, cdnBase)

	got, ok := New().CandidateImage(doc, 5)
	// Falls through numeric matching; word-form fallback also fails.
	require.False(t, ok, "got %q", got)
}
