// Package step provides the abstract definition of a pipeline step decorator. Implementations of this package hook
// into the task lifecycle of the host runtime, such as the "condaenv" decorator, which provisions an isolated
// package environment for the step before user code executes.
package step
