/*
Package dataset implements the synchronization and verification of
datasets: directory trees of experiment files that live on a data store and
are copied to a compute node's scratch storage to be worked on.

The lifecycle of a Dataset is:
1) New lists the remote directory and classifies its entries into files,
   grouped by extension, and subdirectories. When subdirsAsDatasets is set,
   every subdirectory becomes a child Dataset of its own.
2) MakeLocalCopy pulls (part of) the dataset into a fresh temporary
   directory on the workspace node.
3) CreateFileHashes records a digest of every file in the local copy, and
   CheckFileHashes later detects content that changed since.
4) ResyncToSource pushes the local copy back to the data store, and
   optionally wipes the temporary directory.

Every step blocks until it completes. Failures are never rolled back, so
that a failed copy or push can be inspected by hand.
*/
package dataset
