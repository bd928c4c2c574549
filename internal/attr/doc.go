// Package attr implements the typed attribute model for pipeline nodes.
//
// An attribute is declared by a Spec (name, cty type, default, flags) and
// instantiated as an Attribute holding either literal values or links to
// attributes on other nodes. Links are held as name-based references; the
// graph package owns resolution so that attributes never point at peer
// structs directly.
package attr
