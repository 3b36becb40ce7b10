// Package delivery implements [arkana.Delivery]: SMTP mail rendered from
// embedded HTML templates, and a logger-backed sender for local work.
package delivery
