// Package classify decides whether a state-change event warrants a
// notification, and at what severity.
//
// Classification is pure: the same event and configuration snapshot
// always yield the same verdict, and nothing here touches dedup or
// registry state. Critical verdicts (smoke, moisture, co, gas) drive
// DND-bypassing pushes; warning verdicts (battery, heat, tamper, ...)
// only reach the app event feed.
package classify
