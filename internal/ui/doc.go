// Package ui implements the credential pool dashboard using bubbletea's Elm architecture.
//
// The dashboard has two views:
//  1. [SlotListView] : every credential × platform slot with its state, quota and activity
//  2. [ConfirmView] : confirm freeing the selected slot
//
// From the slot list an operator can refresh the report, rescan every credential (resolving
// ownership conflicts), request a connect URL for the selected slot's platform, or disconnect it.
// All pool operations go through a [Backend].
//
// When the model is given a job progress channel, the latest update per session is shown below
// the list. Updates are read one at a time through a tea.Cmd so a slow render never blocks the queue.
package ui
