package paypal

import (
	"strings"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
)

const maxDescLen = 126

// sanitizeDescription turns a caller-supplied description into one PayPal
// will accept: double quotes become apostrophes (PayPal's JSON payload is
// built by hand, so a stray quote would corrupt it) and anything past 126
// characters is replaced by an ellipsis at the same byte offsets the
// original daemon used.
func sanitizeDescription(s string) string {
	s = strings.ReplaceAll(s, `"`, "'")
	if len(s) <= maxDescLen {
		return s
	}
	b := []byte(s)
	b[122] = ' '
	b[123] = '.'
	b[124] = '.'
	b[125] = '.'
	return string(b[:126])
}

func requireString(dict *keyvalue.Dict, name string) (string, error) {
	v := dict.GetDefault(name, "")
	if v == "" {
		return "", perr.MissingValue.Withf("value for '%s' missing", name)
	}
	return v, nil
}

// validateURL returns dict's value for name, rejecting a missing value or
// one containing a double quote (which would break the JSON payloads this
// package hand-builds around redirect URLs).
func validateURL(dict *keyvalue.Dict, name string) (string, error) {
	v := dict.GetDefault(name, "")
	if v == "" || strings.Contains(v, `"`) {
		return "", perr.InvName.Withf("value for '%s' missing or unsuitable", name)
	}
	return v, nil
}

func boolFlag(b bool) string {
	if b {
		return "t"
	}
	return "f"
}

// backupField copies dict's value for name into target under an
// underscore-prefixed name, so it survives the round trip through session
// storage between a PPCHECKOUT prepare and its matching execute.
func backupField(target *keyvalue.Dict, dict *keyvalue.Dict, name string) {
	target.Set("_"+name, dict.GetDefault(name, ""))
}

// restoreField is the inverse of backupField: it copies the underscore
// field "_"+name from state back into dict as name.
func restoreField(dict *keyvalue.Dict, state *keyvalue.Dict, name string) {
	v, ok := state.Get("_" + name)
	if ok {
		dict.Put(name, v)
	}
}

// backupMeta copies every non-empty "Meta[x]" field from dict into target
// under "_Meta[x]", mirroring backupField for the whole family of meta
// fields at once.
func backupMeta(target *keyvalue.Dict, dict *keyvalue.Dict) {
	for _, p := range dict.Pairs() {
		if strings.HasPrefix(p.Name, "Meta[") && p.Value != "" {
			target.Set("_"+p.Name, p.Value)
		}
	}
}

// restoreMeta is the inverse of backupMeta: every "_Meta[x]" field in state
// is copied back into dict as "Meta[x]".
func restoreMeta(dict *keyvalue.Dict, state *keyvalue.Dict) {
	for _, p := range state.Pairs() {
		if strings.HasPrefix(p.Name, "_Meta[") && p.Value != "" {
			dict.Put(p.Name[1:], p.Value)
		}
	}
}

// findLinkURL walks a PayPal HATEOAS "links" array looking for an entry
// whose "rel" matches rel, returning its "href".
func findLinkURL(body map[string]interface{}, rel string) string {
	links, ok := body["links"].([]interface{})
	if !ok {
		return ""
	}
	for _, raw := range links {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if r, _ := item["rel"].(string); r == rel {
			href, _ := item["href"].(string)
			return href
		}
	}
	return ""
}

// findSaleID digs into transactions[].related_resources[].sale.id, the
// shape of a legacy (non-HATEOAS) one-time payment execute response.
func findSaleID(body map[string]interface{}) string {
	txns, ok := body["transactions"].([]interface{})
	if !ok {
		return ""
	}
	for _, rawTxn := range txns {
		txn, ok := rawTxn.(map[string]interface{})
		if !ok {
			continue
		}
		related, ok := txn["related_resources"].([]interface{})
		if !ok {
			continue
		}
		for _, rawRes := range related {
			res, ok := rawRes.(map[string]interface{})
			if !ok {
				continue
			}
			sale, ok := res["sale"].(map[string]interface{})
			if !ok {
				continue
			}
			if id, _ := sale["id"].(string); id != "" {
				return id
			}
			return ""
		}
	}
	return ""
}

func findPayerField(body map[string]interface{}, field string) string {
	payer, ok := body["payer"].(map[string]interface{})
	if !ok {
		return ""
	}
	info, ok := payer["payer_info"].(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := info[field].(string)
	return v
}

func findEmail(body map[string]interface{}) string {
	return findPayerField(body, "email")
}

func findPayerID(body map[string]interface{}) string {
	return findPayerField(body, "payer_id")
}
