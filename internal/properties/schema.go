package properties

// Schema registers the type of each well-known key of a property scope,
// grouped by tag. It is resolved once when a Bag is created.
type Schema map[Type][]string

// MediaSchema is the registry of the media scope.
var MediaSchema = Schema{
	String: {
		"broadcasting_type",
		"ad_type",
		"show",
		"show_season",
		"episode_id",
		"episode",
		"channel",
		"author",
		"broadcaster",
	},
	Date:    {"publication_date"},
	Boolean: {"auto_mode"},
}

// Merge returns a new schema holding the keys of s and other. Keys registered
// in both take the type from other.
func (s Schema) Merge(other Schema) Schema {
	out := make(Schema)
	seen := make(map[string]Type)
	for _, src := range []Schema{s, other} {
		for t, keys := range src {
			for _, k := range keys {
				seen[k] = t
			}
		}
	}
	for k, t := range seen {
		out[t] = append(out[t], k)
	}
	return out
}

func (s Schema) resolve() map[string]string {
	keys := make(map[string]string)
	for t, names := range s {
		if !t.Valid() {
			continue
		}
		for _, k := range names {
			keys[k] = Qualify(t, k)
		}
	}
	return keys
}
