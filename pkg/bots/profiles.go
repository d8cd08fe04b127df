// Package bots generates the bot identities that join the room at startup.
package bots

import (
	"fmt"
	"math/rand"
)

// FantasyNames is the base name pool bots draw from at startup.
var FantasyNames = []string{
	"Aelric", "Branna", "Cedric", "Darian", "Elowen", "Faelar",
	"Gareth", "Isolde", "Kael", "Lyria", "Morgana", "Nimue",
	"Orin", "Rowan", "Seraphina", "Thorin", "Valen", "Ysolda",
}

// Professions is the classic RPG class pool a bot persona is built from.
var Professions = []string{
	"Mage", "Warrior", "Rogue", "Cleric", "Ranger",
	"Bard", "Paladin", "Druid", "Sorcerer", "Monk",
}

// Profile is a bot identity. Immutable after generation.
type Profile struct {
	Name       string
	Profession string
}

// GenerateProfiles builds count profiles with shuffled names and random
// professions. When count exceeds the name pool, names repeat with a
// numeric suffix so every bot still has a unique display name.
func GenerateProfiles(count int, rng *rand.Rand) []Profile {
	if count <= 0 {
		return nil
	}

	pool := make([]string, len(FantasyNames))
	copy(pool, FantasyNames)
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	profiles := make([]Profile, 0, count)
	for i := 0; i < count; i++ {
		name := pool[i%len(pool)]
		if i >= len(pool) {
			name = fmt.Sprintf("%s-%d", name, i/len(pool)+1)
		}
		profiles = append(profiles, Profile{
			Name:       name,
			Profession: Professions[rng.Intn(len(Professions))],
		})
	}
	return profiles
}

// RoleplayStyle maps a profession to the tone descriptor injected into that
// bot's persona prompt. Unknown professions get a neutral fallback.
func RoleplayStyle(profession string) string {
	switch profession {
	case "Mage":
		return "Curious, observant tone, with light references to magic when it fits."
	case "Warrior":
		return "Direct and practical tone, never rude."
	case "Rogue":
		return "Sharp tone with occasional dry humor."
	case "Cleric":
		return "Warm, calm tone, no sermons."
	case "Ranger":
		return "Practical tone, with trail and wilderness examples when they make sense."
	case "Bard":
		return "Sociable, creative tone without poetic excess."
	case "Paladin":
		return "Firm, dependable tone, no moralizing."
	case "Druid":
		return "Calm, balanced tone with subtle nods to nature."
	case "Sorcerer":
		return "Confident, spontaneous tone with light energy."
	case "Monk":
		return "Grounded, to-the-point tone without stiffness."
	default:
		return "Speak like a natural, direct, respectful person."
	}
}
