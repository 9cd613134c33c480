// Package classify maps failure messages onto a fixed error taxonomy.
package classify

import "strings"

// Category is the error taxonomy tag attached to a failure
type Category string

const (
	ElementNotFound         Category = "ElementNotFound"
	TimeoutDelayedElement   Category = "Timeout/DelayedElement"
	SelectorChanged         Category = "SelectorChanged"
	AssertionFailure        Category = "AssertionFailure"
	NetworkError            Category = "NetworkError"
	JavaScriptError         Category = "JavaScriptError"
	NavigationError         Category = "NavigationError"
	ElementInteractionError Category = "ElementInteractionError"
	PermissionError         Category = "PermissionError"
	Unknown                 Category = "Unknown"
)

// String implements the Stringer interface for Category
func (c Category) String() string {
	return string(c)
}

type rule struct {
	category Category
	needles  []string
}

// rules are evaluated in order and the first hit wins. Matching is case-sensitive.
var rules = []rule{
	{ElementNotFound, []string{"No node found", "not visible", "Element not found"}},
	{TimeoutDelayedElement, []string{"Timeout", "timeout", "timed out"}},
	{SelectorChanged, []string{"selector", "locator"}},
	{AssertionFailure, []string{"expect(", "assertion failed", "AssertionError"}},
	{NetworkError, []string{"net::", "Failed to fetch", "NetworkError", "status=", "ECONNREFUSED"}},
	{JavaScriptError, []string{"TypeError", "ReferenceError", "of undefined", "of null", "is not a function"}},
	{NavigationError, []string{"navigation", "Navigation", "page.goto", "page load"}},
	{ElementInteractionError, []string{"not clickable", "intercepts pointer events", "element is disabled"}},
	{PermissionError, []string{"Permission denied", "permission denied", "Access denied", "access denied"}},
}

// Categorize returns the category of an error message. It is total: any
// string, including the empty one, maps to a category.
func Categorize(message string) Category {
	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(message, needle) {
				return r.category
			}
		}
	}
	return Unknown
}

// Categories returns every category in priority order, ending with Unknown
func Categories() []Category {
	out := make([]Category, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.category)
	}
	return append(out, Unknown)
}
