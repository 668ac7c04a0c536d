// SPDX-License-Identifier: MPL-2.0

package systab

import (
	"fmt"
	"strconv"

	"github.com/invowk/cokernel/internal/execmode"
	"github.com/invowk/cokernel/pkg/abi"
)

// NrCalls is the size of the call table. Ids in [0, NrCalls) are valid;
// slots without a known call stay bound to the not-implemented handler.
const NrCalls = 128

// Well-known call ids.
const (
	SysThreadCreate abi.CallID = iota
	SysThreadGetpid
	SysThreadSetschedparamEx
	SysThreadGetschedparamEx
	SysSchedWeightprio
	SysSchedYield
	SysThreadSetmode
	SysThreadSetname
	SysThreadKill
	SysThreadGetstat
	SysThreadJoin
	SysSemInit
	SysSemDestroy
	SysSemPost
	SysSemWait
	SysSemTimedwait
	SysSemTrywait
	SysSemGetvalue
	SysSemOpen
	SysSemClose
	SysSemUnlink
	SysSemBroadcastNp
	SysSemInquire
	SysClockGetres
	SysClockGettime
	SysClockSettime
	SysClockNanosleep
	SysMutexInit
	SysMutexCheckInit
	SysMutexDestroy
	SysMutexLock
	SysMutexTimedlock
	SysMutexTrylock
	SysMutexUnlock
	SysCondInit
	SysCondDestroy
	SysCondWaitPrologue
	SysCondWaitEpilogue
	SysMqOpen
	SysMqClose
	SysMqUnlink
	SysMqGetattr
	SysMqSetattr
	SysMqTimedsend
	SysMqTimedreceive
	SysMqNotify
	SysSigwait
	SysSigwaitinfo
	SysSigtimedwait
	SysSigpending
	SysKill
	SysSigqueue
	SysTimerCreate
	SysTimerDelete
	SysTimerSettime
	SysTimerGettime
	SysTimerGetoverrun
	SysTimerfdCreate
	SysTimerfdGettime
	SysTimerfdSettime
	SysSelect
	SysSchedMinprio
	SysSchedMaxprio
	SysMonitorInit
	SysMonitorDestroy
	SysMonitorEnter
	SysMonitorWait
	SysMonitorSync
	SysMonitorExit
	SysEventInit
	SysEventDestroy
	SysEventWait
	SysEventSync
	SysEventInquire
	SysSchedSetconfigNp
	SysSchedGetconfigNp
	SysOpen
	SysSocket
	SysClose
	SysMmap
	SysIoctl
	SysRead
	SysWrite
	SysRecvmsg
	SysSendmsg
	SysMigrate
	SysArchcall
	SysBind
	SysExtend
	SysInfo
	SysTrace
	SysGetCurrent
	SysMayday
	SysBacktrace
	SysSerialdbg
	SysSysconf
	SysSysctl

	numKnownCalls
)

type callInfo struct {
	name string
	mode execmode.Flags
}

// known lists the name and mode of every well-known call. Modes are fixed
// at build time and shared by all threads.
var known = [numKnownCalls]callInfo{
	SysThreadCreate:          {"thread_create", execmode.Init},
	SysThreadGetpid:          {"thread_getpid", execmode.Current},
	SysThreadSetschedparamEx: {"thread_setschedparam_ex", execmode.Conforming},
	SysThreadGetschedparamEx: {"thread_getschedparam_ex", execmode.Current},
	SysSchedWeightprio:       {"sched_weightprio", execmode.Current},
	SysSchedYield:            {"sched_yield", execmode.Primary},
	SysThreadSetmode:         {"thread_setmode", execmode.Primary},
	SysThreadSetname:         {"thread_setname", execmode.Current},
	SysThreadKill:            {"thread_kill", execmode.Conforming},
	SysThreadGetstat:         {"thread_getstat", execmode.Current},
	SysThreadJoin:            {"thread_join", execmode.Primary},
	SysSemInit:               {"sem_init", execmode.Current},
	SysSemDestroy:            {"sem_destroy", execmode.Current},
	SysSemPost:               {"sem_post", execmode.Current},
	SysSemWait:               {"sem_wait", execmode.Primary},
	SysSemTimedwait:          {"sem_timedwait", execmode.Primary},
	SysSemTrywait:            {"sem_trywait", execmode.Primary},
	SysSemGetvalue:           {"sem_getvalue", execmode.Current},
	SysSemOpen:               {"sem_open", execmode.Current},
	SysSemClose:              {"sem_close", execmode.Current},
	SysSemUnlink:             {"sem_unlink", execmode.Current},
	SysSemBroadcastNp:        {"sem_broadcast_np", execmode.Current},
	SysSemInquire:            {"sem_inquire", execmode.Current},
	SysClockGetres:           {"clock_getres", execmode.Current},
	SysClockGettime:          {"clock_gettime", execmode.Current},
	SysClockSettime:          {"clock_settime", execmode.Current},
	SysClockNanosleep:        {"clock_nanosleep", execmode.NonRestartable},
	SysMutexInit:             {"mutex_init", execmode.Current},
	SysMutexCheckInit:        {"mutex_check_init", execmode.Current},
	SysMutexDestroy:          {"mutex_destroy", execmode.Current},
	SysMutexLock:             {"mutex_lock", execmode.Primary},
	SysMutexTimedlock:        {"mutex_timedlock", execmode.Primary},
	SysMutexTrylock:          {"mutex_trylock", execmode.Primary},
	SysMutexUnlock:           {"mutex_unlock", execmode.NonRestartable},
	SysCondInit:              {"cond_init", execmode.Current},
	SysCondDestroy:           {"cond_destroy", execmode.Current},
	SysCondWaitPrologue:      {"cond_wait_prologue", execmode.NonRestartable},
	SysCondWaitEpilogue:      {"cond_wait_epilogue", execmode.Primary},
	SysMqOpen:                {"mq_open", execmode.Relaxed},
	SysMqClose:               {"mq_close", execmode.Relaxed},
	SysMqUnlink:              {"mq_unlink", execmode.Relaxed},
	SysMqGetattr:             {"mq_getattr", execmode.Current},
	SysMqSetattr:             {"mq_setattr", execmode.Current},
	SysMqTimedsend:           {"mq_timedsend", execmode.Primary},
	SysMqTimedreceive:        {"mq_timedreceive", execmode.Primary},
	SysMqNotify:              {"mq_notify", execmode.Primary},
	SysSigwait:               {"sigwait", execmode.Primary},
	SysSigwaitinfo:           {"sigwaitinfo", execmode.NonRestartable},
	SysSigtimedwait:          {"sigtimedwait", execmode.NonRestartable},
	SysSigpending:            {"sigpending", execmode.Primary},
	SysKill:                  {"kill", execmode.Conforming},
	SysSigqueue:              {"sigqueue", execmode.Conforming},
	SysTimerCreate:           {"timer_create", execmode.Current},
	SysTimerDelete:           {"timer_delete", execmode.Current},
	SysTimerSettime:          {"timer_settime", execmode.Primary},
	SysTimerGettime:          {"timer_gettime", execmode.Current},
	SysTimerGetoverrun:       {"timer_getoverrun", execmode.Current},
	SysTimerfdCreate:         {"timerfd_create", execmode.Relaxed},
	SysTimerfdGettime:        {"timerfd_gettime", execmode.Current},
	SysTimerfdSettime:        {"timerfd_settime", execmode.Primary},
	SysSelect:                {"select", execmode.NonRestartable},
	SysSchedMinprio:          {"sched_minprio", execmode.Current},
	SysSchedMaxprio:          {"sched_maxprio", execmode.Current},
	SysMonitorInit:           {"monitor_init", execmode.Current},
	SysMonitorDestroy:        {"monitor_destroy", execmode.Primary},
	SysMonitorEnter:          {"monitor_enter", execmode.Primary},
	SysMonitorWait:           {"monitor_wait", execmode.NonRestartable},
	SysMonitorSync:           {"monitor_sync", execmode.NonRestartable},
	SysMonitorExit:           {"monitor_exit", execmode.Primary},
	SysEventInit:             {"event_init", execmode.Current},
	SysEventDestroy:          {"event_destroy", execmode.Current},
	SysEventWait:             {"event_wait", execmode.Primary},
	SysEventSync:             {"event_sync", execmode.Current},
	SysEventInquire:          {"event_inquire", execmode.Current},
	SysSchedSetconfigNp:      {"sched_setconfig_np", execmode.Current},
	SysSchedGetconfigNp:      {"sched_getconfig_np", execmode.Current},
	SysOpen:                  {"open", execmode.Relaxed},
	SysSocket:                {"socket", execmode.Relaxed},
	SysClose:                 {"close", execmode.Relaxed},
	SysMmap:                  {"mmap", execmode.Relaxed},
	SysIoctl:                 {"ioctl", execmode.Probing},
	SysRead:                  {"read", execmode.Probing},
	SysWrite:                 {"write", execmode.Probing},
	SysRecvmsg:               {"recvmsg", execmode.Probing},
	SysSendmsg:               {"sendmsg", execmode.Probing},
	SysMigrate:               {"migrate", execmode.Current},
	SysArchcall:              {"archcall", execmode.Current},
	SysBind:                  {"bind", execmode.Relaxed},
	SysExtend:                {"extend", execmode.Relaxed},
	SysInfo:                  {"info", execmode.Relaxed},
	SysTrace:                 {"trace", execmode.Current},
	SysGetCurrent:            {"get_current", execmode.Current},
	SysMayday:                {"mayday", execmode.OneWayTrap},
	SysBacktrace:             {"backtrace", execmode.Current},
	SysSerialdbg:             {"serialdbg", execmode.Current},
	SysSysconf:               {"sysconf", execmode.Current},
	SysSysctl:                {"sysctl", execmode.Probing},
}

// CallName returns the name of a well-known call, or "sc_<id>".
func CallName(id abi.CallID) string {
	if id >= 0 && id < numKnownCalls {
		return known[id].name
	}
	return "sc_" + strconv.Itoa(int(id))
}

// IsWellKnown reports whether id names a call with a built-in mode.
func IsWellKnown(id abi.CallID) bool { return id >= 0 && id < numKnownCalls }

// LookupName resolves a call name or a decimal id.
func LookupName(name string) (abi.CallID, error) {
	for id, ci := range known {
		if ci.name == name {
			return abi.CallID(id), nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil {
		return abi.CallID(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCall, name)
}
