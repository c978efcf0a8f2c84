package pubchem

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds a compound name for cache keys. PubChem name lookups
// are case-insensitive, so "Aspirin", "ASPIRIN" and "aspirin " share a key.
func NormalizeName(name string) string {
	value := norm.NFKC.String(strings.TrimSpace(name))
	value = strings.Join(strings.Fields(value), " ")
	return cases.Fold().String(value)
}

func autocompleteKey(text string, limit int) string {
	return "ac:" + strconv.Itoa(limit) + ":" + NormalizeName(text)
}

func nameKey(name string) string {
	return "name:" + NormalizeName(name)
}

func cidKey(kind string, cid int64) string {
	return kind + ":" + strconv.FormatInt(cid, 10)
}
