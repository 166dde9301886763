package model

import (
	"fmt"
	"strings"
)

// ContentFlag is a bitmask describing the content classification of a comic
type ContentFlag uint32

const (
	ContentFlagNone             ContentFlag = 0
	ContentFlagViolence         ContentFlag = 1 << 0
	ContentFlagGore             ContentFlag = 1 << 1
	ContentFlagNudity           ContentFlag = 1 << 2
	ContentFlagProfaneLanguage  ContentFlag = 1 << 3
	ContentFlagDrugUse          ContentFlag = 1 << 4
	ContentFlagChildrenFriendly ContentFlag = 1 << 5
	ContentFlagFreemium         ContentFlag = 1 << 6
	ContentFlagPremium          ContentFlag = 1 << 7
	ContentFlagFree             ContentFlag = 1 << 8
)

var contentFlagNames = []struct {
	flag ContentFlag
	name string
}{
	{ContentFlagViolence, "Violence"},
	{ContentFlagGore, "Gore"},
	{ContentFlagNudity, "Nudity"},
	{ContentFlagProfaneLanguage, "ProfaneLanguage"},
	{ContentFlagDrugUse, "DrugUse"},
	{ContentFlagChildrenFriendly, "ChildrenFriendly"},
	{ContentFlagFreemium, "Freemium"},
	{ContentFlagPremium, "Premium"},
	{ContentFlagFree, "Free"},
}

// Has reports whether every bit of other is set in f
func (f ContentFlag) Has(other ContentFlag) bool {
	return f&other == other
}

// String renders the set flags joined by "|"
func (f ContentFlag) String() string {
	if f == ContentFlagNone {
		return "None"
	}
	names := make([]string, 0, len(contentFlagNames))
	for _, n := range contentFlagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// AgeRating is the audience age classification of a comic
type AgeRating int

const (
	AgeRatingAllAges AgeRating = iota
	AgeRatingTeen
	AgeRatingTeen15Plus
	AgeRatingMature
	AgeRatingAdult
)

var ageRatingNames = map[AgeRating]string{
	AgeRatingAllAges:    "AllAges",
	AgeRatingTeen:       "Teen",
	AgeRatingTeen15Plus: "Teen15Plus",
	AgeRatingMature:     "Mature",
	AgeRatingAdult:      "Adult",
}

func (a AgeRating) String() string {
	if name, ok := ageRatingNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AgeRating(%d)", int(a))
}

// MarshalText implements encoding.TextMarshaler
func (a AgeRating) MarshalText() ([]byte, error) {
	if _, ok := ageRatingNames[a]; !ok {
		return nil, fmt.Errorf("unknown age rating: %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *AgeRating) UnmarshalText(text []byte) error {
	for rating, name := range ageRatingNames {
		if strings.EqualFold(name, string(text)) {
			*a = rating
			return nil
		}
	}
	return fmt.Errorf("unknown age rating: %q", string(text))
}

// LicenseType is the access level granted by a geographic rule
type LicenseType int

const (
	LicenseTypeFull LicenseType = iota
	LicenseTypePreviewOnly
	LicenseTypeNoAccess
)

var licenseTypeNames = map[LicenseType]string{
	LicenseTypeFull:        "Full",
	LicenseTypePreviewOnly: "PreviewOnly",
	LicenseTypeNoAccess:    "NoAccess",
}

func (l LicenseType) String() string {
	if name, ok := licenseTypeNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LicenseType(%d)", int(l))
}

// MarshalText implements encoding.TextMarshaler
func (l LicenseType) MarshalText() ([]byte, error) {
	if _, ok := licenseTypeNames[l]; !ok {
		return nil, fmt.Errorf("unknown license type: %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *LicenseType) UnmarshalText(text []byte) error {
	for license, name := range licenseTypeNames {
		if strings.EqualFold(name, string(text)) {
			*l = license
			return nil
		}
	}
	return fmt.Errorf("unknown license type: %q", string(text))
}
