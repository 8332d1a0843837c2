// Command chaptercrawler downloads serialized novels with resumable
// checkpoints. Run "chaptercrawler --help" for the command list.
package main
