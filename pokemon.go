/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Supplier hands out a random creature for a round. Implementations may
// fail (network); the caller surfaces the error and the user retries.
type Supplier interface {
	FetchRandom() (*Pokemon, error)
}

const (
	dexSize     = 151
	artworkBase = "https://raw.githubusercontent.com/PokeAPI/sprites/master/sprites/pokemon/other/official-artwork"
)

func randDexNumber() int {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return 1 + int(binary.LittleEndian.Uint16(b[:]))%dexSize
}

// normalizeGuess lowercases, trims, and strips everything that isn't a
// letter or digit, so "Mr. Mime" matches "mr-mime".
func normalizeGuess(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// APISupplier fetches creatures from a PokéAPI instance.
type APISupplier struct {
	baseURL string
	client  *http.Client
}

func NewAPISupplier(baseURL string) *APISupplier {
	return &APISupplier{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *APISupplier) FetchRandom() (*Pokemon, error) {
	id := randDexNumber()

	resp, err := s.client.Get(fmt.Sprintf("%s/api/v2/pokemon/%d", s.baseURL, id))
	if err != nil {
		return nil, fmt.Errorf("fetching pokemon %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching pokemon %d: unexpected status %s", id, resp.Status)
	}

	var body struct {
		ID      int    `json:"id"`
		Name    string `json:"name"`
		Sprites struct {
			Other struct {
				OfficialArtwork struct {
					FrontDefault string `json:"front_default"`
				} `json:"official-artwork"`
			} `json:"other"`
		} `json:"sprites"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding pokemon %d: %w", id, err)
	}

	image := body.Sprites.Other.OfficialArtwork.FrontDefault
	if image == "" {
		image = fmt.Sprintf("%s/%d.png", artworkBase, body.ID)
	}

	return &Pokemon{ID: body.ID, Name: body.Name, ImageURL: image}, nil
}

// DexSupplier serves creatures from the embedded generation-one dex, for
// offline use and tests.
type DexSupplier struct{}

func (DexSupplier) FetchRandom() (*Pokemon, error) {
	id := randDexNumber()
	return &Pokemon{
		ID:       id,
		Name:     gen1Dex[id-1],
		ImageURL: fmt.Sprintf("%s/%d.png", artworkBase, id),
	}, nil
}

func newSupplier(cfg *Config) Supplier {
	if cfg.pokeapi != "" {
		return NewAPISupplier(cfg.pokeapi)
	}
	return DexSupplier{}
}

// The original 151, in dex order, using PokéAPI's name forms.
var gen1Dex = [dexSize]string{
	"bulbasaur", "ivysaur", "venusaur", "charmander", "charmeleon",
	"charizard", "squirtle", "wartortle", "blastoise", "caterpie",
	"metapod", "butterfree", "weedle", "kakuna", "beedrill",
	"pidgey", "pidgeotto", "pidgeot", "rattata", "raticate",
	"spearow", "fearow", "ekans", "arbok", "pikachu",
	"raichu", "sandshrew", "sandslash", "nidoran-f", "nidorina",
	"nidoqueen", "nidoran-m", "nidorino", "nidoking", "clefairy",
	"clefable", "vulpix", "ninetales", "jigglypuff", "wigglytuff",
	"zubat", "golbat", "oddish", "gloom", "vileplume",
	"paras", "parasect", "venonat", "venomoth", "diglett",
	"dugtrio", "meowth", "persian", "psyduck", "golduck",
	"mankey", "primeape", "growlithe", "arcanine", "poliwag",
	"poliwhirl", "poliwrath", "abra", "kadabra", "alakazam",
	"machop", "machoke", "machamp", "bellsprout", "weepinbell",
	"victreebel", "tentacool", "tentacruel", "geodude", "graveler",
	"golem", "ponyta", "rapidash", "slowpoke", "slowbro",
	"magnemite", "magneton", "farfetchd", "doduo", "dodrio",
	"seel", "dewgong", "grimer", "muk", "shellder",
	"cloyster", "gastly", "haunter", "gengar", "onix",
	"drowzee", "hypno", "krabby", "kingler", "voltorb",
	"electrode", "exeggcute", "exeggutor", "cubone", "marowak",
	"hitmonlee", "hitmonchan", "lickitung", "koffing", "weezing",
	"rhyhorn", "rhydon", "chansey", "tangela", "kangaskhan",
	"horsea", "seadra", "goldeen", "seaking", "staryu",
	"starmie", "mr-mime", "scyther", "jynx", "electabuzz",
	"magmar", "pinsir", "tauros", "magikarp", "gyarados",
	"lapras", "ditto", "eevee", "vaporeon", "jolteon",
	"flareon", "porygon", "omanyte", "omastar", "kabuto",
	"kabutops", "aerodactyl", "snorlax", "articuno", "zapdos",
	"moltres", "dratini", "dragonair", "dragonite", "mewtwo",
	"mew",
}
