package service

import (
	"context"
	"regexp"
	"slices"

	"github.com/k3a/html2text"

	"github.com/tphakala/idconsensus/internal/datastore"
)

// Logins start with a letter and continue with letters, digits, "_" or "-".
var mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z][\w-]*)`)

// mentionedLogins returns the case-folded logins mentioned in body, in order
// of first appearance. HTML markup is stripped first so attribute values and
// link targets never count.
func mentionedLogins(body string) []string {
	if body == "" {
		return nil
	}
	text := html2text.HTML2Text(body)
	var logins []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		login := datastore.NormalizeLogin(m[1])
		if !slices.Contains(logins, login) {
			logins = append(logins, login)
		}
	}
	return logins
}

// newMentions resolves logins mentioned in body but not in previous to user
// ids, excluding the author.
func newMentions(ctx context.Context, tx *datastore.Store, authorID uint, body, previous string) ([]uint, error) {
	logins := mentionedLogins(body)
	if len(logins) == 0 {
		return nil, nil
	}
	if previous != "" {
		old := mentionedLogins(previous)
		logins = slices.DeleteFunc(logins, func(l string) bool { return slices.Contains(old, l) })
		if len(logins) == 0 {
			return nil, nil
		}
	}

	users, err := tx.Users().FindByLogins(ctx, logins)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		if u.ID != authorID {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}
