package matchmaking

// Compatible reports whether a and b mutually satisfy each other's
// gender-preference and age-range constraints. All four conditions must hold:
// gender and age are each checked in BOTH directions, so the relation is
// symmetric: Compatible(a, b) == Compatible(b, a).
func Compatible(a, b *Participant) bool {
	return wantsGender(a, b.Gender) &&
		wantsGender(b, a.Gender) &&
		wantsAge(a, b.Age) &&
		wantsAge(b, a.Age)
}

// wantsGender reports whether p's desired gender matches g, treating
// GenderAny (or an unset preference) as a wildcard.
func wantsGender(p *Participant, g Gender) bool {
	want := p.Prefs.DesiredGender
	return want == GenderAny || want == "" || want == g
}

// wantsAge reports whether age falls within p's [MinAge, MaxAge] range,
// inclusive on both ends.
func wantsAge(p *Participant, age int) bool {
	return age >= p.Prefs.MinAge && age <= p.Prefs.MaxAge
}
