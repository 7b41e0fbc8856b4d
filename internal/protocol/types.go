// Package protocol implements the engine API message codec: typed request
// intents, envelope encoding and response decoding over the engine's
// protobuf wire format.
package protocol

import (
	"fmt"
	"strings"
)

// Status is the engine-reported lifecycle state carried by every response.
type Status int32

const (
	StatusLaunched Status = 1
	StatusInitGame Status = 2
	StatusInGame   Status = 3
	StatusInReplay Status = 4
	StatusEnded    Status = 5
	StatusQuit     Status = 6
	StatusUnknown  Status = 99
)

var statusStrings = map[Status]string{
	StatusLaunched: "launched",
	StatusInitGame: "init_game",
	StatusInGame:   "in_game",
	StatusInReplay: "in_replay",
	StatusEnded:    "ended",
	StatusQuit:     "quit",
	StatusUnknown:  "unknown",
}

// String returns the engine's name for the status, or its number when the
// engine sent a value this package does not know.
func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// MarshalJSON serializes Status as a JSON string (e.g. "in_game").
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Race is a playable faction.
type Race int32

const (
	RaceNone    Race = 0
	RaceTerran  Race = 1
	RaceZerg    Race = 2
	RaceProtoss Race = 3
	RaceRandom  Race = 4
)

var raceStrings = map[Race]string{
	RaceNone:    "none",
	RaceTerran:  "terran",
	RaceZerg:    "zerg",
	RaceProtoss: "protoss",
	RaceRandom:  "random",
}

// String returns the lowercase race name.
func (r Race) String() string {
	if str, ok := raceStrings[r]; ok {
		return str
	}
	return "none"
}

// MarshalJSON serializes Race as a JSON string.
func (r Race) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// ParseRace resolves a race name, case-insensitively.
func ParseRace(s string) (Race, bool) {
	for r, name := range raceStrings {
		if strings.EqualFold(name, s) {
			return r, true
		}
	}
	return RaceNone, false
}

// PlayerType distinguishes scripted participants from built-in opponents.
type PlayerType int32

const (
	PlayerTypeParticipant PlayerType = 1
	PlayerTypeComputer    PlayerType = 2
	PlayerTypeObserver    PlayerType = 3
)

var playerTypeStrings = map[PlayerType]string{
	PlayerTypeParticipant: "participant",
	PlayerTypeComputer:    "computer",
	PlayerTypeObserver:    "observer",
}

func (t PlayerType) String() string {
	if str, ok := playerTypeStrings[t]; ok {
		return str
	}
	return "unknown"
}

// Difficulty is the built-in opponent's skill level.
type Difficulty int32

const (
	DifficultyVeryEasy    Difficulty = 1
	DifficultyEasy        Difficulty = 2
	DifficultyMedium      Difficulty = 3
	DifficultyMediumHard  Difficulty = 4
	DifficultyHard        Difficulty = 5
	DifficultyHarder      Difficulty = 6
	DifficultyVeryHard    Difficulty = 7
	DifficultyCheatVision Difficulty = 8
	DifficultyCheatMoney  Difficulty = 9
	DifficultyCheatInsane Difficulty = 10
)

var difficultyStrings = map[Difficulty]string{
	DifficultyVeryEasy:    "very_easy",
	DifficultyEasy:        "easy",
	DifficultyMedium:      "medium",
	DifficultyMediumHard:  "medium_hard",
	DifficultyHard:        "hard",
	DifficultyHarder:      "harder",
	DifficultyVeryHard:    "very_hard",
	DifficultyCheatVision: "cheat_vision",
	DifficultyCheatMoney:  "cheat_money",
	DifficultyCheatInsane: "cheat_insane",
}

func (d Difficulty) String() string {
	if str, ok := difficultyStrings[d]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes Difficulty as a JSON string.
func (d Difficulty) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// ParseDifficulty resolves a difficulty name such as "medium_hard".
func ParseDifficulty(s string) (Difficulty, bool) {
	for d, name := range difficultyStrings {
		if strings.EqualFold(name, s) {
			return d, true
		}
	}
	return 0, false
}

// AIBuild is the build-order strategy of a built-in opponent.
type AIBuild int32

const (
	AIBuildRandom AIBuild = 1
	AIBuildRush   AIBuild = 2
	AIBuildTiming AIBuild = 3
	AIBuildPower  AIBuild = 4
	AIBuildMacro  AIBuild = 5
	AIBuildAir    AIBuild = 6
)

var aiBuildStrings = map[AIBuild]string{
	AIBuildRandom: "random",
	AIBuildRush:   "rush",
	AIBuildTiming: "timing",
	AIBuildPower:  "power",
	AIBuildMacro:  "macro",
	AIBuildAir:    "air",
}

func (b AIBuild) String() string {
	if str, ok := aiBuildStrings[b]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes AIBuild as a JSON string.
func (b AIBuild) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// ParseAIBuild resolves a build name such as "macro".
func ParseAIBuild(s string) (AIBuild, bool) {
	for b, name := range aiBuildStrings {
		if strings.EqualFold(name, s) {
			return b, true
		}
	}
	return 0, false
}

// Result is a participant's outcome once a match has ended.
type Result int32

const (
	ResultVictory   Result = 1
	ResultDefeat    Result = 2
	ResultTie       Result = 3
	ResultUndecided Result = 4
)

var resultStrings = map[Result]string{
	ResultVictory:   "victory",
	ResultDefeat:    "defeat",
	ResultTie:       "tie",
	ResultUndecided: "undecided",
}

func (r Result) String() string {
	if str, ok := resultStrings[r]; ok {
		return str
	}
	return "undecided"
}

// MarshalJSON serializes Result as a JSON string.
func (r Result) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}
