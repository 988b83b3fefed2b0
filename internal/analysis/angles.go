package analysis

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/database"
)

var angleFolder = cases.Fold()

// NormalizeAngle canonicalizes an angle label so "Front", " front " and the
// full-width "ｆｒｏｎｔ" group together.
func NormalizeAngle(label string) string {
	return strings.TrimSpace(angleFolder.String(norm.NFKC.String(label)))
}

// IsKnownAngle reports whether the label is one of the required capture angles.
func IsKnownAngle(label string) bool {
	return slices.Contains(constants.RequiredAngles, NormalizeAngle(label))
}

// groupByAngle groups images by normalized angle, keeping their order.
// Images without an angle label belong to no group.
func groupByAngle(images []database.Image) (map[string][]database.Image, []string) {
	groups := make(map[string][]database.Image)
	var order []string
	for _, img := range images {
		angle := NormalizeAngle(img.AngleType)
		if angle == "" {
			continue
		}
		if _, ok := groups[angle]; !ok {
			order = append(order, angle)
		}
		groups[angle] = append(groups[angle], img)
	}
	return groups, sortAngles(order)
}

// sortAngles orders required angles first in capture order, then any others
// alphabetically.
func sortAngles(angles []string) []string {
	out := slices.Clone(angles)
	rank := func(a string) int {
		if i := slices.Index(constants.RequiredAngles, a); i >= 0 {
			return i
		}
		return len(constants.RequiredAngles)
	}
	slices.SortStableFunc(out, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return out
}

// PresentAngles returns the distinct normalized angles of the images.
func PresentAngles(images []database.Image) []string {
	_, order := groupByAngle(images)
	return order
}

// MissingAngles returns the required angles with no image.
func MissingAngles(images []database.Image) []string {
	present := PresentAngles(images)
	var missing []string
	for _, a := range constants.RequiredAngles {
		if !slices.Contains(present, a) {
			missing = append(missing, a)
		}
	}
	return missing
}
