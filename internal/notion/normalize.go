package notion

import (
	"sort"
	"strings"

	"github.com/taskmirror/taskmirror/internal/taskstore"
)

type richText struct {
	PlainText string `json:"plain_text"`
}

type selectOption struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type objectRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// propertyPayload is the tagged union Notion uses for page property values;
// Type selects which payload field is populated.
type propertyPayload struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       []richText     `json:"title,omitempty"`
	RichText    []richText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *selectOption  `json:"select,omitempty"`
	Status      *selectOption  `json:"status,omitempty"`
	MultiSelect []selectOption `json:"multi_select,omitempty"`
	Date        *dateValue     `json:"date,omitempty"`
	Checkbox    *bool          `json:"checkbox,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Email       *string        `json:"email,omitempty"`
	PhoneNumber *string        `json:"phone_number,omitempty"`
	People      []objectRef    `json:"people,omitempty"`
	Relation    []objectRef    `json:"relation,omitempty"`
}

func plainText(blocks []richText) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		parts = append(parts, block.PlainText)
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

// umlautReplacer transliterates German labels before keying so "Fällig"
// yields "faellig" and lines up with the due-date naming conventions.
var umlautReplacer = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
)

// normalizeColumnKey turns a remote property label into a stable column key:
// lowercase, umlauts transliterated, non-alphanumerics collapsed to
// underscores, deduplicated with a numeric suffix when two labels collide.
func normalizeColumnKey(label string, used map[string]bool) string {
	var b strings.Builder
	lastUnderscore := true
	normalized := umlautReplacer.Replace(strings.ToLower(strings.TrimSpace(label)))
	for _, r := range normalized {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	key := strings.Trim(b.String(), "_")
	if key == "" {
		key = "column"
	}
	if !used[key] {
		used[key] = true
		return key
	}
	for i := 2; ; i++ {
		candidate := key + "_" + itoa(i)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func mapPropertyType(notionType string) string {
	switch notionType {
	case "title":
		return taskstore.TypeTitle
	case "number":
		return taskstore.TypeNumber
	case "checkbox":
		return taskstore.TypeBoolean
	case "date", "created_time", "last_edited_time":
		return taskstore.TypeDate
	case "multi_select", "people":
		return taskstore.TypeList
	case "relation":
		return taskstore.TypeRelation
	default:
		// rich_text, select, status, url, email, phone_number, formula, ...
		return taskstore.TypeString
	}
}

// columnsFromSchema builds the column descriptors in a deterministic order:
// the title property first, then the rest by label.
func columnsFromSchema(db database) ([]taskstore.Column, map[string]string) {
	names := make([]string, 0, len(db.Properties))
	for name := range db.Properties {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := db.Properties[names[i]], db.Properties[names[j]]
		if (a.Type == "title") != (b.Type == "title") {
			return a.Type == "title"
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	used := map[string]bool{}
	columns := make([]taskstore.Column, 0, len(names))
	keyByLabel := make(map[string]string, len(names))
	for _, name := range names {
		meta := db.Properties[name]
		key := normalizeColumnKey(name, used)
		keyByLabel[name] = key
		columns = append(columns, taskstore.Column{
			Key:   key,
			Label: name,
			Type:  mapPropertyType(meta.Type),
		})
	}
	return columns, keyByLabel
}

func extractValue(payload propertyPayload) (taskstore.Value, bool) {
	switch payload.Type {
	case "title":
		return taskstore.Value{Type: taskstore.TypeTitle, Text: plainText(payload.Title)}, true
	case "rich_text":
		return taskstore.Value{Type: taskstore.TypeString, Text: plainText(payload.RichText)}, true
	case "number":
		if payload.Number == nil {
			return taskstore.Value{Type: taskstore.TypeNumber}, true
		}
		return taskstore.Value{Type: taskstore.TypeNumber, Number: *payload.Number}, true
	case "select":
		if payload.Select == nil {
			return taskstore.Value{Type: taskstore.TypeString}, true
		}
		return taskstore.Value{Type: taskstore.TypeString, Text: payload.Select.Name}, true
	case "status":
		if payload.Status == nil {
			return taskstore.Value{Type: taskstore.TypeString}, true
		}
		return taskstore.Value{Type: taskstore.TypeString, Text: payload.Status.Name}, true
	case "multi_select":
		items := make([]string, 0, len(payload.MultiSelect))
		for _, option := range payload.MultiSelect {
			if option.Name != "" {
				items = append(items, option.Name)
			}
		}
		return taskstore.Value{Type: taskstore.TypeList, List: items}, true
	case "people":
		items := make([]string, 0, len(payload.People))
		for _, person := range payload.People {
			if person.Name != "" {
				items = append(items, person.Name)
			} else if person.ID != "" {
				items = append(items, person.ID)
			}
		}
		return taskstore.Value{Type: taskstore.TypeList, List: items}, true
	case "relation":
		items := make([]string, 0, len(payload.Relation))
		for _, ref := range payload.Relation {
			if ref.ID != "" {
				items = append(items, ref.ID)
			}
		}
		return taskstore.Value{Type: taskstore.TypeRelation, List: items}, true
	case "date":
		if payload.Date == nil {
			return taskstore.Value{Type: taskstore.TypeDate}, true
		}
		return taskstore.Value{Type: taskstore.TypeDate, Text: payload.Date.Start}, true
	case "checkbox":
		checked := payload.Checkbox != nil && *payload.Checkbox
		return taskstore.Value{Type: taskstore.TypeBoolean, Bool: checked}, true
	case "url":
		return stringPointerValue(payload.URL), true
	case "email":
		return stringPointerValue(payload.Email), true
	case "phone_number":
		return stringPointerValue(payload.PhoneNumber), true
	default:
		return taskstore.Value{}, false
	}
}

func stringPointerValue(ptr *string) taskstore.Value {
	if ptr == nil {
		return taskstore.Value{Type: taskstore.TypeString}
	}
	return taskstore.Value{Type: taskstore.TypeString, Text: *ptr}
}

// pageTitle extracts a page's display title from its title property, falling
// back to the first non-empty rich_text property.
func pageTitle(p page) string {
	var fallback string
	for _, payload := range p.Properties {
		switch payload.Type {
		case "title":
			if text := plainText(payload.Title); text != "" {
				return text
			}
		case "rich_text":
			if fallback == "" {
				fallback = plainText(payload.RichText)
			}
		}
	}
	return fallback
}

// rowFromPage maps one remote page onto the Row domain shape. completed is
// derived from the status convention: a status/select value in the completed
// set, or a truthy checkbox whose column key is in the set.
func rowFromPage(p page, keyByLabel map[string]string, completed map[string]struct{}, workspace string) taskstore.Row {
	row := taskstore.Row{
		ExternalID:     p.ID,
		Workspace:      workspace,
		URL:            p.URL,
		Archived:       p.Archived,
		CreatedTime:    p.CreatedTime,
		LastEditedTime: p.LastEditedTime,
		Properties:     make(map[string]taskstore.Value, len(p.Properties)),
	}
	used := map[string]bool{}
	for key := range keyByLabel {
		used[keyByLabel[key]] = true
	}
	var fallbackTitle string
	for label, payload := range p.Properties {
		value, ok := extractValue(payload)
		if !ok {
			continue
		}
		key, known := keyByLabel[label]
		if !known {
			// Schema drift: a property not in the cached schema still gets a
			// stable key so no data is dropped.
			key = normalizeColumnKey(label, used)
		}
		row.Properties[key] = value

		switch payload.Type {
		case "title":
			row.Title = value.Text
		case "rich_text":
			if fallbackTitle == "" {
				fallbackTitle = value.Text
			}
		case "status", "select":
			if _, done := completed[strings.ToLower(value.Text)]; done {
				row.Completed = true
			}
		case "checkbox":
			if value.Bool {
				if _, done := completed[strings.ToLower(key)]; done {
					row.Completed = true
				}
			}
		}
	}
	if row.Title == "" {
		row.Title = fallbackTitle
	}
	return row
}
