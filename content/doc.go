// Package content shapes stored conversation content into the ordered,
// labeled block form the model provider accepts.
//
// Segments are regrouped as images, then documents, then text, keeping the
// relative order inside each group. When a message carries more than one
// image (or document) each one is preceded by an "Image N:" ("Document N:")
// label. Only the fields the provider understands survive normalization.
package content
