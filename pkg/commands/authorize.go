package commands

// Authorizer decides whether an actor may run a command.
type Authorizer func(actor Actor) bool

// Always allows every actor.
func Always() Authorizer {
	return func(Actor) bool { return true }
}

func HasCapability(capability string) Authorizer {
	return func(a Actor) bool { return a.HasCapability(capability) }
}

func HasRole(slugs ...string) Authorizer {
	return func(a Actor) bool { return a.HasAnyRole(slugs...) }
}

// AnyOf passes when at least one of checks passes.
func AnyOf(checks ...Authorizer) Authorizer {
	return func(a Actor) bool {
		for _, check := range checks {
			if check != nil && check(a) {
				return true
			}
		}
		return false
	}
}

// DefaultAuthorizer is the predicate used when a definition has no Authorize
// override: the actor holds Permission, or one of the elevated roles, or one
// of the definition's own Roles. A definition without Permission is open.
func DefaultAuthorizer(def Definition, elevated []string) Authorizer {
	if def.Permission == "" {
		return Always()
	}
	roles := make([]string, 0, len(elevated)+len(def.Roles))
	roles = append(roles, elevated...)
	roles = append(roles, def.Roles...)
	return AnyOf(HasCapability(def.Permission), HasRole(roles...))
}

// Authorized evaluates def's effective predicate for actor.
func Authorized(def Definition, actor Actor, elevated []string) bool {
	if def.Authorize != nil {
		return def.Authorize(actor)
	}
	return DefaultAuthorizer(def, elevated)(actor)
}
