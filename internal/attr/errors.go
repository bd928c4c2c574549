package attr

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// TypeMismatchError reports a value that cannot be converted to an
// attribute's declared type.
type TypeMismatchError struct {
	Attr string
	Want cty.Type
	Got  cty.Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("attribute %q expects %s, got %s",
		e.Attr, e.Want.FriendlyName(), e.Got.FriendlyName())
}

// LinkedError reports an attempt to assign a literal value to an attribute
// that is currently link-driven. The link must be removed first.
type LinkedError struct {
	Attr string
}

func (e *LinkedError) Error() string {
	return fmt.Sprintf("attribute %q is link-driven; remove the link before setting a value", e.Attr)
}
