// Package views defines the shop's projections: their view types, transition
// tables, routing, and lifecycles.
package views
