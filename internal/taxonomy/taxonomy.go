// Package taxonomy maps free-text program labels from schedule documents to
// a fixed set of canonical program categories.
package taxonomy

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is a canonical program category
type Category string

const (
	LapSwim           Category = "Lap Swim"
	FamilySwim        Category = "Family Swim"
	SeniorTherapySwim Category = "Senior Swim / Therapy Swim"
	WaterExercise     Category = "Water Exercise"
	MastersSwim       Category = "Masters Swim Program"
	SwimLessons       Category = "Swim Lessons"
	AdultSwimLessons  Category = "Adult Swim Lessons"
	ParentChildSwim   Category = "Parent & Child Swim"
	YouthSwimTeam     Category = "Youth Swim Team"
	SynchronizedSwim  Category = "Synchronized Swimming"
	AdultWaterPolo    Category = "Adult Water Polo"
	YouthWaterPolo    Category = "Youth Water Polo"
	SpecialOlympics   Category = "Special Olympics"
	SchoolPrograms    Category = "School District & High School Programs"
	ClosureOrStaffUse Category = "Pool Closure / Staff & Departmental Use"
)

// Categories lists every canonical category in presentation order
var Categories = []Category{
	LapSwim,
	FamilySwim,
	SeniorTherapySwim,
	WaterExercise,
	MastersSwim,
	SwimLessons,
	AdultSwimLessons,
	ParentChildSwim,
	YouthSwimTeam,
	SynchronizedSwim,
	AdultWaterPolo,
	YouthWaterPolo,
	SpecialOlympics,
	SchoolPrograms,
	ClosureOrStaffUse,
}

type rule struct {
	keywords []string
	pick     func(l string) Category
}

func always(c Category) func(string) Category {
	return func(string) Category { return c }
}

func has(l string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(l, w) {
			return true
		}
	}
	return false
}

var (
	closureWords     = []string{"closed", "closure", "no public", "staff", "departmental", "maintenance", "rental", "private event"}
	olympicsWords    = []string{"special olympic"}
	schoolWords      = []string{"sfusd", "school district", "pe class", "school swim"}
	mastersWords     = []string{"masters", "master's"}
	seniorWords      = []string{"senior", "therapy", "therapeutic", "arthritis", "warm water", "rehab", "older adult", "55+", "60+"}
	lapWords         = []string{"lap"}
	familyWords      = []string{"family", "families"}
	exerciseWords    = []string{"water exercise", "water aerobics", "water fitness", "aqua fit", "aquafit", "aqua aerobics", "aqua jog", "deep water", "water walking", "water jogging"}
	synchroWords     = []string{"synchro", "artistic swim"}
	poloWords        = []string{"water polo", "waterpolo", "polo"}
	lessonWords      = []string{"lesson", "learn to swim", "swim school", "instruction"}
	parentChildWords = []string{"parent", "mommy", "daddy", "caregiver", "tots", "toddler", "infant", "baby"}
	youthTeamWords   = []string{"swim team", "swim club", "team practice", "aquatic club", "youth swim", "junior guard"}
	openSwimWords    = []string{"recreational", "rec swim", "open swim", "public swim", "general swim", "free swim", "play swim"}

	adultWords      = []string{"adult", "18+"}
	youthWords      = []string{"youth", "junior", "kids", "children", "teen", "age group", "10u", "12u", "14u", "16u", "18u"}
	highSchoolWords = []string{" high school ", " hs ", " varsity ", " jv "}
)

// rules are evaluated in order and the first match wins. Keywords overlap
// across rules ("senior lap swim"), so the order is the disambiguation.
var rules = []rule{
	{keywords: closureWords, pick: always(ClosureOrStaffUse)},
	{keywords: olympicsWords, pick: always(SpecialOlympics)},
	{keywords: schoolWords, pick: always(SchoolPrograms)},
	{keywords: mastersWords, pick: always(MastersSwim)},
	{keywords: seniorWords, pick: always(SeniorTherapySwim)},
	{keywords: lapWords, pick: always(LapSwim)},
	{keywords: familyWords, pick: always(FamilySwim)},
	{keywords: exerciseWords, pick: always(WaterExercise)},
	{keywords: synchroWords, pick: pickSynchro},
	{keywords: poloWords, pick: pickPolo},
	{keywords: lessonWords, pick: pickLessons},
	{keywords: parentChildWords, pick: always(ParentChildSwim)},
	{keywords: youthTeamWords, pick: always(YouthSwimTeam)},
	{keywords: openSwimWords, pick: always(FamilySwim)},
}

func pickSynchro(l string) Category {
	if has(l, youthWords...) {
		return YouthSwimTeam
	}
	return SynchronizedSwim
}

func pickPolo(l string) Category {
	switch {
	case has(l, adultWords...):
		return AdultWaterPolo
	case has(" "+l+" ", highSchoolWords...):
		return SchoolPrograms
	default:
		return YouthWaterPolo
	}
}

func pickLessons(l string) Category {
	if has(l, adultWords...) {
		return AdultSwimLessons
	}
	return SwimLessons
}

// Classify maps a raw program label to a canonical category.
// It returns false when no rule matches.
func Classify(label string) (Category, bool) {
	l := strings.ToLower(strings.Join(strings.Fields(label), " "))
	if l == "" {
		return "", false
	}
	for _, r := range rules {
		if has(l, r.keywords...) {
			return r.pick(l), true
		}
	}
	return "", false
}

// Label returns the canonical category for label, or its display-formatted
// text when it cannot be classified
func Label(label string) string {
	if c, ok := Classify(label); ok {
		return string(c)
	}
	return DisplayLabel(label)
}

// DisplayLabel title-cases label and collapses whitespace
func DisplayLabel(label string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(label), " "))
}

// IsCanonical reports whether name is one of the canonical categories
func IsCanonical(name string) bool {
	for _, c := range Categories {
		if string(c) == name {
			return true
		}
	}
	return false
}
