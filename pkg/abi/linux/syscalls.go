// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package linux

// SyscallTable maps a syscall name, without any "sys_" prefix, to its number.
type SyscallTable map[string]uint64

// Lookup returns the number of the named syscall.
func (t SyscallTable) Lookup(name string) (uint64, bool) {
	nr, ok := t[name]
	return nr, ok
}

// Name returns the name of syscall nr, or "" if the table has none.
func (t SyscallTable) Name(nr uint64) string {
	for name, n := range t {
		if n == nr {
			return name
		}
	}
	return ""
}

// Syscall numbers for the vsyscall page trampolines on amd64.
const (
	SYS_GETTIMEOFDAY_AMD64 = 0x60
	SYS_TIME_AMD64         = 0xc9
	SYS_GETCPU_AMD64       = 0x135
)

// AMD64Syscalls is the x86-64 syscall table.
var AMD64Syscalls = SyscallTable{
	"read":            0,
	"write":           1,
	"open":            2,
	"close":           3,
	"stat":            4,
	"fstat":           5,
	"lstat":           6,
	"poll":            7,
	"lseek":           8,
	"mmap":            9,
	"mprotect":        10,
	"munmap":          11,
	"brk":             12,
	"rt_sigaction":    13,
	"rt_sigprocmask":  14,
	"rt_sigreturn":    15,
	"ioctl":           16,
	"pread64":         17,
	"pwrite64":        18,
	"readv":           19,
	"writev":          20,
	"access":          21,
	"pipe":            22,
	"select":          23,
	"sched_yield":     24,
	"mremap":          25,
	"msync":           26,
	"mincore":         27,
	"madvise":         28,
	"dup":             32,
	"dup2":            33,
	"pause":           34,
	"nanosleep":       35,
	"alarm":           37,
	"getpid":          39,
	"socket":          41,
	"connect":         42,
	"accept":          43,
	"sendto":          44,
	"recvfrom":        45,
	"bind":            49,
	"listen":          50,
	"clone":           56,
	"fork":            57,
	"vfork":           58,
	"execve":          59,
	"exit":            60,
	"wait4":           61,
	"kill":            62,
	"uname":           63,
	"fcntl":           72,
	"fsync":           74,
	"truncate":        76,
	"ftruncate":       77,
	"getdents":        78,
	"getcwd":          79,
	"chdir":           80,
	"rename":          82,
	"mkdir":           83,
	"rmdir":           84,
	"creat":           85,
	"link":            86,
	"unlink":          87,
	"symlink":         88,
	"readlink":        89,
	"chmod":           90,
	"chown":           92,
	"umask":           95,
	"gettimeofday":    SYS_GETTIMEOFDAY_AMD64,
	"getrlimit":       97,
	"getuid":          102,
	"getgid":          104,
	"geteuid":         107,
	"getegid":         108,
	"getppid":         110,
	"arch_prctl":      158,
	"init_module":     175,
	"delete_module":   176,
	"gettid":          186,
	"time":            SYS_TIME_AMD64,
	"futex":           202,
	"getdents64":      217,
	"set_tid_address": 218,
	"clock_gettime":   228,
	"exit_group":      231,
	"openat":          257,
	"newfstatat":      262,
	"getcpu":          SYS_GETCPU_AMD64,
	"getrandom":       318,
}

// I386Syscalls is the 32-bit x86 syscall table.
var I386Syscalls = SyscallTable{
	"exit":            1,
	"fork":            2,
	"read":            3,
	"write":           4,
	"open":            5,
	"close":           6,
	"waitpid":         7,
	"creat":           8,
	"link":            9,
	"unlink":          10,
	"execve":          11,
	"chdir":           12,
	"time":            13,
	"chmod":           15,
	"lseek":           19,
	"getpid":          20,
	"getuid":          24,
	"access":          33,
	"kill":            37,
	"rename":          38,
	"mkdir":           39,
	"rmdir":           40,
	"dup":             41,
	"pipe":            42,
	"brk":             45,
	"getgid":          47,
	"geteuid":         49,
	"getegid":         50,
	"ioctl":           54,
	"fcntl":           55,
	"dup2":            63,
	"getppid":         64,
	"gettimeofday":    78,
	"readlink":        85,
	"mmap":            90,
	"munmap":          91,
	"socketcall":      102,
	"stat":            106,
	"fstat":           108,
	"clone":           120,
	"uname":           122,
	"mprotect":        125,
	"init_module":     128,
	"delete_module":   129,
	"_llseek":         140,
	"getdents":        141,
	"readv":           145,
	"writev":          146,
	"nanosleep":       162,
	"rt_sigaction":    174,
	"rt_sigprocmask":  175,
	"getcwd":          183,
	"mmap2":           192,
	"stat64":          195,
	"fstat64":         197,
	"getdents64":      220,
	"gettid":          224,
	"futex":           240,
	"set_thread_area": 243,
	"exit_group":      252,
	"set_tid_address": 258,
	"clock_gettime":   265,
	"openat":          295,
	"getcpu":          318,
	"getrandom":       355,
}
