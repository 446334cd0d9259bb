package permissions

// Built-in group policies.
var (
	// AdminPolicy is the Administrators group policy.
	AdminPolicy = Policy{CatEntities: true}

	// UserPolicy is the Users group policy.
	UserPolicy = Policy{CatEntities: true}

	// ReadOnlyPolicy allows reading every entity and nothing else.
	ReadOnlyPolicy = Policy{
		CatEntities: map[string]any{
			SubcatAll: map[string]any{PolicyRead: true},
		},
	}
)
