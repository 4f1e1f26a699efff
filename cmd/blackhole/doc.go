// Command blackhole watches an import tree for .nzb release descriptors and
// routes each one either onto the rclone mount or into the SABnzbd download
// queue.
//
// Subcommands:
//
//	blackhole run               watch the import tree until interrupted
//	blackhole sweep             process descriptors already on disk and exit
//	blackhole classify FILE...  print the verdict for descriptors without routing them
//	blackhole history           show recent routing outcomes from the journal
//	blackhole logs [-f]         print or follow the daemon log file
//	blackhole config init       write a sample configuration
//	blackhole config validate   load and check the configuration
package main
