////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package drafts

// merge resolves a remotely observed container against the local one and
// returns the merged container plus whether anything changed. It runs in
// two phases:
//
//  1. Per-entry last-writer-wins: a remote draft is adopted when the local
//     map has no entry for its conversation or when it wins the timestamp
//     comparison. Ties on lastModified are broken by the writing device's
//     identifier, so every device resolves the same winner instead of each
//     silently preferring its own copy.
//  2. Watermark-gated tombstoning: only when the remote watermark has
//     advanced past the local one is the remote set treated as
//     authoritative for deletions, removing local entries absent from the
//     remote map (a draft cleared on another device). A stale snapshot
//     can therefore never delete fresher local-only drafts.
//
// A flat "remote replaces local" would discard concurrent local edits and
// "never delete" would accumulate zombie drafts forever; this is the
// middle path. The merge is idempotent, so at-least-once notification
// delivery is safe.
func merge(local, remote Container) (Container, bool) {
	merged := local.copy()
	changed := false

	for id, remoteDraft := range remote.Drafts {
		localDraft, exists := merged.Drafts[id]
		if !exists || remoteWins(localDraft, remoteDraft) {
			if exists && remoteDraft.Equals(localDraft) {
				continue
			}
			merged.Drafts[id] = remoteDraft.copy()
			changed = true
		}
	}

	if remote.LastSynced > local.LastSynced {
		for id := range merged.Drafts {
			if _, exists := remote.Drafts[id]; !exists {
				delete(merged.Drafts, id)
				changed = true
			}
		}
		merged.LastSynced = remote.LastSynced
		changed = true
	}

	return merged, changed
}

// remoteWins is the last-writer-wins comparator. Strictly newer remote
// timestamps win; equal timestamps fall back to the device identifier so
// the outcome is symmetric across devices.
func remoteWins(local, remote Draft) bool {
	if remote.LastModified != local.LastModified {
		return remote.LastModified > local.LastModified
	}
	return remote.Device > local.Device
}
