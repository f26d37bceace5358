package poolnet

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AlgorithmID identifies a proof-of-work algorithm. The zero value is invalid.
type AlgorithmID uint32

const (
	AlgoInvalid AlgorithmID = iota
	AlgoCN0
	AlgoCN1
	AlgoCN2
	AlgoCNR
	AlgoCNFast
	AlgoCNHalf
	AlgoCNXAO
	AlgoCNRTO
	AlgoCNRWZ
	AlgoCNZLS
	AlgoCNDouble
	AlgoCNCCX
	AlgoCNLite1
	AlgoCNHeavy0
	AlgoCNHeavyTube
	AlgoCNHeavyXHV
	AlgoCNPico
	AlgoCNPicoTLO
	AlgoRX0
	AlgoRXWOW
	AlgoRXARQ
	AlgoRXGraft
	AlgoRXSFX
	AlgoRXKeva
	AlgoArgonChukwa
	AlgoArgonChukwaV2
	AlgoArgonNinja
	AlgoKawPow
	AlgoGhostRider
)

var algorithmNames = map[AlgorithmID]string{
	AlgoCN0:           "cn/0",
	AlgoCN1:           "cn/1",
	AlgoCN2:           "cn/2",
	AlgoCNR:           "cn/r",
	AlgoCNFast:        "cn/fast",
	AlgoCNHalf:        "cn/half",
	AlgoCNXAO:         "cn/xao",
	AlgoCNRTO:         "cn/rto",
	AlgoCNRWZ:         "cn/rwz",
	AlgoCNZLS:         "cn/zls",
	AlgoCNDouble:      "cn/double",
	AlgoCNCCX:         "cn/ccx",
	AlgoCNLite1:       "cn-lite/1",
	AlgoCNHeavy0:      "cn-heavy/0",
	AlgoCNHeavyTube:   "cn-heavy/tube",
	AlgoCNHeavyXHV:    "cn-heavy/xhv",
	AlgoCNPico:        "cn-pico",
	AlgoCNPicoTLO:     "cn-pico/tlo",
	AlgoRX0:           "rx/0",
	AlgoRXWOW:         "rx/wow",
	AlgoRXARQ:         "rx/arq",
	AlgoRXGraft:       "rx/graft",
	AlgoRXSFX:         "rx/sfx",
	AlgoRXKeva:        "rx/keva",
	AlgoArgonChukwa:   "argon2/chukwa",
	AlgoArgonChukwaV2: "argon2/chukwav2",
	AlgoArgonNinja:    "argon2/ninja",
	AlgoKawPow:        "kawpow",
	AlgoGhostRider:    "ghostrider",
}

// algorithmAliases maps alternative spellings seen in pool configs and
// stratum job notifications to canonical ids.
var algorithmAliases = map[string]AlgorithmID{
	"cryptonight":           AlgoCN0,
	"cryptonight/0":         AlgoCN0,
	"cryptonight/1":         AlgoCN1,
	"cryptonight/2":         AlgoCN2,
	"cryptonight/r":         AlgoCNR,
	"cryptonight/half":      AlgoCNHalf,
	"cryptonight-lite/1":    AlgoCNLite1,
	"cryptonight-heavy":     AlgoCNHeavy0,
	"cryptonight-pico":      AlgoCNPico,
	"cryptonight-turtle":    AlgoCNPico,
	"randomx":               AlgoRX0,
	"rx":                    AlgoRX0,
	"randomwow":             AlgoRXWOW,
	"randomarq":             AlgoRXARQ,
	"randomsfx":             AlgoRXSFX,
	"chukwa":                AlgoArgonChukwa,
	"chukwav2":              AlgoArgonChukwaV2,
	"argon2/wrkz":           AlgoArgonNinja,
	"kawpow/rvn":            AlgoKawPow,
	"gr":                    AlgoGhostRider,
	"ghostrider/rtm":        AlgoGhostRider,
	"cryptonight/ccx":       AlgoCNCCX,
	"cryptonight/double":    AlgoCNDouble,
	"cryptonight-heavy/xhv": AlgoCNHeavyXHV,
}

var algorithmsByName = func() map[string]AlgorithmID {
	out := make(map[string]AlgorithmID, len(algorithmNames)+len(algorithmAliases))
	for id, name := range algorithmNames {
		out[name] = id
	}
	for alias, id := range algorithmAliases {
		out[alias] = id
	}
	return out
}()

// Algorithm is a proof-of-work algorithm as negotiated with pools.
// Values are comparable; two Algorithms are equal when their ids are.
type Algorithm struct {
	id AlgorithmID
}

// NewAlgorithm returns the Algorithm for id. Unknown ids are invalid.
func NewAlgorithm(id AlgorithmID) Algorithm {
	if _, ok := algorithmNames[id]; !ok {
		return Algorithm{}
	}
	return Algorithm{id: id}
}

// ParseAlgorithm resolves a canonical name or alias, case-insensitively.
// Unknown names yield an invalid Algorithm.
func ParseAlgorithm(name string) Algorithm {
	id, ok := algorithmsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Algorithm{}
	}
	return Algorithm{id: id}
}

func (a Algorithm) ID() AlgorithmID { return a.id }

func (a Algorithm) IsValid() bool { return a.id != AlgoInvalid }

// Name returns the canonical name, or "invalid".
func (a Algorithm) Name() string {
	if name, ok := algorithmNames[a.id]; ok {
		return name
	}
	return "invalid"
}

func (a Algorithm) String() string { return a.Name() }

// Family returns the name prefix before the variant, e.g. "rx" for rx/0.
func (a Algorithm) Family() string {
	if !a.IsValid() {
		return ""
	}
	name := a.Name()
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return name
}

func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.IsValid() {
		return []byte{}, nil
	}
	return []byte(a.Name()), nil
}

func (a *Algorithm) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*a = Algorithm{}
		return nil
	}
	parsed := ParseAlgorithm(raw)
	if !parsed.IsValid() {
		return fmt.Errorf("unknown algorithm %q", raw)
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes invalid algorithms as null.
func (a Algorithm) MarshalJSON() ([]byte, error) {
	if !a.IsValid() {
		return []byte("null"), nil
	}
	return json.Marshal(a.Name())
}

// Algorithms is an ordered algorithm list; order expresses preference.
type Algorithms []Algorithm

// Index returns the position of a, or -1.
func (l Algorithms) Index(a Algorithm) int {
	for i, v := range l {
		if v == a {
			return i
		}
	}
	return -1
}

func (l Algorithms) Contains(a Algorithm) bool { return l.Index(a) >= 0 }

// Names returns the canonical names in order.
func (l Algorithms) Names() []string {
	out := make([]string, 0, len(l))
	for _, a := range l {
		out = append(out, a.Name())
	}
	return out
}

// Prefer returns a copy of l with a moved to the front. The relative order
// of every other element is preserved. When a is invalid, absent or already
// first, the copy equals l.
func (l Algorithms) Prefer(a Algorithm) Algorithms {
	out := make(Algorithms, len(l))
	copy(out, l)
	if !a.IsValid() {
		return out
	}
	idx := out.Index(a)
	if idx <= 0 {
		return out
	}
	copy(out[1:idx+1], l[:idx])
	out[0] = a
	return out
}
