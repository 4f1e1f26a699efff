// Package router performs the side effect a verdict asks for.
//
// Each category resolves once, at construction, to a pair of targets: a
// direct target (the category's completed subtree, or a library folder when
// the category is backed by a Sonarr/Radarr style service) and a queue target
// carrying the SABnzbd category label. Direct routing moves the descriptor and
// invalidates the rclone directory cache; queue routing submits the
// descriptor and deletes it once the queue has accepted it. A failed move is
// never retried through the queue, and a failed submission leaves the
// descriptor untouched.
package router
