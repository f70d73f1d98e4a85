package store

import "sjsage522/autoadworker/helpers"

// MakeSlug is the canonical slug of a manufacturer name
func MakeSlug(name string) string {
	return helpers.Slugify(name)
}

// ModelSlug prefixes the model slug with its make slug
func ModelSlug(makeSlug, model string) string {
	return makeSlug + "-" + helpers.Slugify(model)
}
