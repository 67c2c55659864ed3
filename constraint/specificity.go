package constraint

// Predicate narrowness weights used to break specificity ties between sets
// constraining the same number of traits. An exact value is narrower than a
// closed range or finite membership set, which is narrower than a half-open
// version bound.
func (p Predicate) weight() int {
	switch p.Op {
	case OpEquals:
		return 3
	case OpOneOf:
		if len(p.Values) == 1 {
			return 3
		}
		return 2
	case OpBetween:
		return 2
	case OpAtLeast, OpAtMost:
		return 1
	}
	return 0
}

// specificity scores a declared set: primarily how many traits it pins down,
// secondarily how narrowly it pins them.
func specificity(s Set) (traits, narrowness int) {
	for _, c := range s.constraints {
		narrowness += c.Pred.weight()
	}
	return s.Len(), narrowness
}

// CompareSpecificity orders two declared constraint sets by how constrained
// they are. It returns >0 if a is more specific than b, <0 if less, and 0 if
// they are equally specific. Equal specificity between competing factory
// candidates is a resolution ambiguity, never a silent pick.
func CompareSpecificity(a, b Set) int {
	aTraits, aNarrow := specificity(a)
	bTraits, bNarrow := specificity(b)
	if aTraits != bTraits {
		return aTraits - bTraits
	}
	return aNarrow - bNarrow
}
