// Package descriptor reads NZB release descriptors and decides how they
// should be routed.
//
// Parse walks the XML token stream and keeps only the text the classifier
// needs: one File per <file> element with its subject attribute and the
// message ids of its segments. Element names are matched by local name, so
// both namespaced and bare documents are accepted. Classify is a pure
// function of that text. Supervisor wraps both in the bounded retry used for
// descriptors that are still being written when they are first observed.
package descriptor
