// Package tier holds the routing decision between the fast and the bulk tier
// and the Adapter interface both tiers implement.
//
// Routing rules, in order:
//
//  1. keys on the small config allow-list go to the fast tier
//  2. keys shorter than MaxKeyLength go to the fast tier
//  3. for writes, values smaller than SizeThreshold go to the fast tier
//  4. everything else goes to the bulk tier
//
// The storage facade dispatches through an array of Adapters indexed by Tier,
// so the routing decision is the only place where the two tiers differ.
package tier
