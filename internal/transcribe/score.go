package transcribe

import (
	"strings"
	"unicode"
)

// WERResult is a word error rate breakdown of a hypothesis against a
// reference transcript.
type WERResult struct {
	WER           float64
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

// edit is one cell of the alignment table: total cost plus the operations
// that produced it.
type edit struct {
	cost, subs, ins, dels int
}

func (e edit) add(subs, ins, dels int) edit {
	return edit{
		cost: e.cost + subs + ins + dels,
		subs: e.subs + subs,
		ins:  e.ins + ins,
		dels: e.dels + dels,
	}
}

// ComputeWER aligns hypothesis against reference after lowercasing,
// stripping punctuation and collapsing whitespace. An empty reference scores
// zero.
func ComputeWER(reference, hypothesis string) WERResult {
	ref := Words(reference)
	hyp := Words(hypothesis)
	if len(ref) == 0 {
		return WERResult{}
	}

	// Two rows of the edit table; ties prefer substitution, then deletion.
	prev := make([]edit, len(hyp)+1)
	cur := make([]edit, len(hyp)+1)
	for j := 1; j <= len(hyp); j++ {
		prev[j] = prev[j-1].add(0, 1, 0)
	}

	for i := 1; i <= len(ref); i++ {
		cur[0] = prev[0].add(0, 0, 1)
		for j := 1; j <= len(hyp); j++ {
			if ref[i-1] == hyp[j-1] {
				cur[j] = prev[j-1]
				continue
			}
			best := prev[j-1].add(1, 0, 0)
			if del := prev[j].add(0, 0, 1); del.cost < best.cost {
				best = del
			}
			if ins := cur[j-1].add(0, 1, 0); ins.cost < best.cost {
				best = ins
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}

	last := prev[len(hyp)]
	return WERResult{
		WER:           float64(last.cost) / float64(len(ref)),
		Substitutions: last.subs,
		Insertions:    last.ins,
		Deletions:     last.dels,
		RefWords:      len(ref),
	}
}

// Words lowercases s, drops punctuation and splits it on whitespace.
func Words(s string) []string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(s)
}

// ContainsPhrase reports whether the words of phrase occur consecutively in
// text, ignoring case and punctuation.
func ContainsPhrase(text, phrase string) bool {
	want := strings.Join(Words(phrase), " ")
	if want == "" {
		return true
	}
	return strings.Contains(" "+strings.Join(Words(text), " ")+" ", " "+want+" ")
}
